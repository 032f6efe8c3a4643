// Package registers decodes the register keys and raw values published by
// Acond heat-pump controllers.
//
// The controller embeds each register's storage kind and display format in the
// key name itself:
//
//	__T46AA2571_REAL_.1f
//	│  │        │    └── display format (".1f", ".0f", "i")
//	│  │        └─────── kind (REAL, BOOL, INT)
//	│  └──────────────── 8 hex digit register id
//	└─────────────────── fixed prefix
//
// Values always travel as strings. Nothing in this package talks to the
// network; the device client keeps raw strings and callers coerce them here
// when they need a typed value.
//
// # Coercion Rules
//
//   - CoerceBool is total: "1" is true, everything else is false
//   - CoerceReal and CoerceInt return *ValueFormatError on bad input
//   - FormatSetpoint rounds to one decimal before formatting
//
// A ValueFormatError only concerns the register being decoded. Renderers show
// such a register as unknown and keep going.
//
// # Catalog
//
// The catalog maps stable names such as "indoor_setpoint" to the read key,
// the write key, unit and limits of the registers exposed by the controller's
// web pages.
//
//	reg, ok := registers.Lookup("indoor_setpoint")
//	if !ok {
//	    return fmt.Errorf("unknown register")
//	}
//	if err := reg.Validate(21.5); err != nil {
//	    return err
//	}
//	key, value := reg.WriteKey, reg.EncodeWrite(21.5) // "__TBEC2C30E_REAL_.1f", "21.5"
package registers
