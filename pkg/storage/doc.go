// Package storage describes the on-disk layout of downloads.
//
// A finished file lives at {root}/{collection title}/{filename}. While a
// transfer is in flight its bytes go to the same path with a ".part"
// suffix, which doubles as the resume point for the next attempt.
//
// Usage:
//
//	manager, err := storage.NewManager("downloads")
//	if err != nil {
//	    return err
//	}
//
//	partial := manager.PartialPath("album", "a.jpg")
//	// ... write bytes to partial ...
//	if err := manager.Finalize("album", "a.jpg"); err != nil {
//	    return err
//	}
package storage
