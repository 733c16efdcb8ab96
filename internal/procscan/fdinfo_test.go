package procscan

import (
	"errors"
	"testing"

	"github.com/skobkin/intelgputop/internal/engine"
)

const i915FDInfo = `pos:	0
flags:	02100002
mnt_id:	26
ino:	1046
drm-driver:	i915
drm-pdev:	0000:00:02.0
drm-client-id:	7
drm-engine-render:	250000000 ns
drm-engine-copy:	0 ns
drm-engine-video:	12 ns
drm-engine-capacity-video:	2
drm-engine-video-enhance:	0 ns
`

func TestParseFDInfo(t *testing.T) {
	rec, err := ParseFDInfo([]byte(i915FDInfo))
	if err != nil {
		t.Fatalf("ParseFDInfo returned error: %v", err)
	}

	if rec.Driver != "i915" {
		t.Fatalf("unexpected driver %q", rec.Driver)
	}
	if rec.PDev != "0000:00:02.0" {
		t.Fatalf("unexpected pdev %q", rec.PDev)
	}
	if rec.ClientID != 7 {
		t.Fatalf("unexpected client id %d", rec.ClientID)
	}
	if rec.Busy[engine.Render] != 250_000_000 {
		t.Fatalf("unexpected render busy %d", rec.Busy[engine.Render])
	}
	if rec.Busy[engine.Video] != 12 {
		t.Fatalf("capacity line must not override video busy, got %d", rec.Busy[engine.Video])
	}
	if rec.HasClass[engine.Compute] {
		t.Fatalf("compute was not reported")
	}
}

func TestParseFDInfoRoundTrip(t *testing.T) {
	rec, err := ParseFDInfo([]byte(i915FDInfo))
	if err != nil {
		t.Fatalf("ParseFDInfo returned error: %v", err)
	}

	again, err := ParseFDInfo([]byte(rec.Format()))
	if err != nil {
		t.Fatalf("ParseFDInfo(Format) returned error: %v", err)
	}
	if again != rec {
		t.Fatalf("round trip mismatch:\n%+v\n%+v", rec, again)
	}
}

func TestParseFDInfoUnits(t *testing.T) {
	rec, err := ParseFDInfo([]byte("drm-driver: i915\ndrm-pdev: 0000:03:00.0\ndrm-client-id: 3\ndrm-engine-compute: 2 ms\n"))
	if err != nil {
		t.Fatalf("ParseFDInfo returned error: %v", err)
	}
	if rec.Busy[engine.Compute] != 2_000_000 {
		t.Fatalf("unexpected compute busy %d", rec.Busy[engine.Compute])
	}
}

func TestParseFDInfoErrors(t *testing.T) {
	testCases := []struct {
		name string
		data string
	}{
		{"NotDRM", "pos:\t0\nflags:\t02\n"},
		{"MissingClientID", "drm-driver:\ti915\ndrm-pdev:\t0000:00:02.0\n"},
		{"BadClientID", "drm-driver:\ti915\ndrm-pdev:\t0000:00:02.0\ndrm-client-id:\tseven\n"},
		{"BadEngineValue", "drm-driver:\ti915\ndrm-pdev:\t0000:00:02.0\ndrm-client-id:\t1\ndrm-engine-render:\tlots\n"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseFDInfo([]byte(tc.data)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}

	if _, err := ParseFDInfo([]byte("pos:\t0\n")); !errors.Is(err, errIncompleteRecord) {
		t.Fatalf("expected errIncompleteRecord, got %v", err)
	}
}
