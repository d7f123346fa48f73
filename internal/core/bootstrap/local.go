package bootstrap

import (
	"context"
	"fmt"
)

// EnsureLocalHelper delegates detect, install and verify to the local
// ensure primitive. Errors and panics collapse into a not-ready Status.
func EnsureLocalHelper(ctx context.Context, ensurer LocalEnsurer) (status Status) {
	defer func() {
		if r := recover(); r != nil {
			status = Status{Reason: fmt.Sprintf("internal fault: %v", r)}
		}
	}()

	res, err := ensurer.EnsureLocalHelperInstalled(ctx)
	if err != nil {
		return Status{Reason: err.Error()}
	}
	if !res.OK {
		return Status{Reason: "local helper is not healthy"}
	}
	return Status{
		Ready:       true,
		Version:     res.Version,
		InstallPath: res.Path,
		Installed:   res.Installed,
	}
}
