// Package ui renders acondctl output with Lip Gloss and Bubble Tea.
//
// Most commands print once and exit:
//
//   - Header: command banner with the device and other parameters
//   - SnapshotView: the register catalog grouped by class
//   - Result: success, warning and failure boxes; failures carry the
//     troubleshooting tips of the device error
//   - Runner: header, step lines and result around a multi-step operation
//
// The watch command runs WatchModel, an interactive screen fed by a
// coordinator subscription:
//
//	coord := coordinator.New(client, opts)
//	if err := coord.Start(ctx); err != nil {
//		return err
//	}
//	defer coord.Stop()
//	return ui.RunWatch(ctx, "Heat pump", coord)
//
// Logging stays silent unless ACOND_LOG_LEVEL is set, so zap output does not
// interleave with the rendered components.
package ui
