package bootstrap

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnsureLocalHelper(t *testing.T) {
	tests := []struct {
		name string
		in   fakeLocal
		want Status
	}{
		{
			name: "ready",
			in:   fakeLocal{res: LocalResult{OK: true, Version: "0.2.1", Path: "/home/u/.jaterm-helper/jaterm-agent"}},
			want: Status{Ready: true, Version: "0.2.1", InstallPath: "/home/u/.jaterm-helper/jaterm-agent"},
		},
		{
			name: "freshly installed",
			in:   fakeLocal{res: LocalResult{OK: true, Version: "0.2.1", Path: "/p", Installed: true}},
			want: Status{Ready: true, Version: "0.2.1", InstallPath: "/p", Installed: true},
		},
		{
			name: "not ok",
			in:   fakeLocal{res: LocalResult{OK: false, Version: "0.2.1", Path: "/p"}},
			want: Status{Reason: "local helper is not healthy"},
		},
		{
			name: "error",
			in:   fakeLocal{err: errors.New("permission denied")},
			want: Status{Reason: "permission denied"},
		},
		{
			name: "panic",
			in:   fakeLocal{panic: true},
			want: Status{Reason: "internal fault: local exploded"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EnsureLocalHelper(context.Background(), tt.in))
		})
	}
}

func TestRecorderAndTee(t *testing.T) {
	var a, b Recorder
	sink := Tee(a.Record, nil, b.Record)

	sink(Event{Step: StepProbe, Status: StatusStarted})
	sink(Event{Step: StepWrite, Status: StatusProgress})
	sink(Event{Step: StepProbe, Status: StatusStale})

	assert.Equal(t, []string{"probe/started", "probe/stale"}, a.Steps())
	assert.Len(t, b.Events(), 3)
}

func TestStepError(t *testing.T) {
	base := errors.New("boom")
	err := error(&StepError{Step: StepChmod, Err: base})
	assert.EqualError(t, err, "chmod: boom")
	assert.ErrorIs(t, err, base)
}
