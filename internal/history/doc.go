// Package history keeps a SQLite log of controller values.
//
// Each row of the readings table is (ts, key, value) with ts in Unix
// milliseconds. Only keys whose value changed since the previous recorded
// snapshot are written, so a steady controller adds almost nothing.
// Prune removes old rows but always keeps the newest reading of each key.
//
// The store is attached to a coordinator as an observer:
//
//	store, err := history.Open(ctx, cfg.History.Path)
//	if err != nil {
//		return err
//	}
//	defer store.Close()
//	coord.Subscribe(store.Observer())
package history
