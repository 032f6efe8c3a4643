package main

import (
	"encoding/json"
	"io"
	"time"

	"github.com/muurk/acond/internal/device"
	"github.com/muurk/acond/internal/registers"
)

type registerJSON struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Unit        string   `json:"unit,omitempty"`
	Value       *float64 `json:"value,omitempty"`
	Text        string   `json:"text"`
	Raw         string   `json:"raw,omitempty"`
	Writable    bool     `json:"writable"`
}

type snapshotJSON struct {
	ReadAt    time.Time         `json:"read_at"`
	Registers []registerJSON    `json:"registers"`
	Values    map[string]string `json:"values,omitempty"`
}

func registerOutput(reg registers.Register, snap device.Snapshot) registerJSON {
	out := registerJSON{
		Name:        reg.Name,
		Description: reg.Description,
		Unit:        reg.Unit,
		Text:        snap.RegisterText(reg),
		Writable:    reg.Writable(),
	}
	out.Raw, _ = snap.Get(reg.Key)
	if v, err := snap.Register(reg); err == nil {
		if f, ok := v.Float(); ok {
			out.Value = &f
		}
	}
	return out
}

func snapshotOutput(snap device.Snapshot, raw bool) snapshotJSON {
	out := snapshotJSON{ReadAt: snap.FetchedAt()}
	for _, reg := range registers.All() {
		out.Registers = append(out.Registers, registerOutput(reg, snap))
	}
	if raw {
		out.Values = snap.Map()
	}
	return out
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
