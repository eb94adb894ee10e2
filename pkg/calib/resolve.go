package calib

import (
	"context"
	"errors"
	"fmt"
	"log"
)

// Sources are the collaborators Resolve may need for a mode.
type Sources struct {
	Procedure *Procedure
	Store     *Store
}

// Resolve selects the startup record for mode.
//
// Stored mode never writes flash; a blank or corrupt record falls back to the
// defaults and the error is returned alongside. Interactive mode returns the
// freshly latched record even when saving fails, since the output was trimmed
// against it; the save error is returned and Store.Persisted stays false.
func Resolve(ctx context.Context, mode Mode, src Sources) (Record, error) {
	switch mode {
	case ModeDefault:
		return DefaultRecord(), nil

	case ModeStored:
		if src.Store == nil {
			return DefaultRecord(), errors.New("calib: stored mode without storage")
		}
		rec, err := src.Store.Load()
		if err != nil {
			log.Printf("calib: stored record unusable, using defaults: %v", err)
			return DefaultRecord(), err
		}
		return rec, nil

	case ModeInteractive:
		if src.Procedure == nil {
			return DefaultRecord(), errors.New("calib: interactive mode without a procedure")
		}
		rec, err := src.Procedure.Run(ctx)
		if err != nil {
			log.Printf("calib: calibration abandoned, using defaults: %v", err)
			return DefaultRecord(), err
		}
		if src.Store == nil {
			return rec, nil
		}
		if err := src.Store.Save(ctx, rec); err != nil {
			log.Printf("calib: calibration not persisted: %v", err)
			return rec, err
		}
		return rec, nil
	}
	return DefaultRecord(), fmt.Errorf("calib: unknown mode %v", mode)
}
