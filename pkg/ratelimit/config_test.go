package ratelimit

import (
	stderrors "errors"
	"testing"
	"time"

	"github.com/vnykmshr/gatekeep/internal/testutil"
	"github.com/vnykmshr/gatekeep/pkg/common/errors"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"valid token bucket", Config{Algorithm: TokenBucket, MaxRequests: 5, Window: time.Minute}, false},
		{"valid with block", Config{Algorithm: FixedWindow, MaxRequests: 1, Window: time.Second, BlockDuration: time.Minute}, false},
		{"unknown algorithm", Config{Algorithm: "leaky", MaxRequests: 5, Window: time.Minute}, true},
		{"zero max", Config{Algorithm: SlidingWindow, MaxRequests: 0, Window: time.Minute}, true},
		{"zero window", Config{Algorithm: SlidingWindow, MaxRequests: 5}, true},
		{"negative block", Config{Algorithm: FixedWindow, MaxRequests: 5, Window: time.Minute, BlockDuration: -time.Second}, true},
		{"window too short for bucket", Config{Algorithm: TokenBucket, MaxRequests: 100, Window: 10}, true},
		{"prefix with colon", Config{Algorithm: FixedWindow, MaxRequests: 5, Window: time.Minute, Prefix: "a:b"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() = %v, want error %v", err, tt.wantErr)
			}
			if err != nil && !stderrors.Is(err, errors.ErrInvalidConfiguration) {
				t.Errorf("error should wrap ErrInvalidConfiguration: %v", err)
			}
		})
	}
}

func TestParseAlgorithm(t *testing.T) {
	tests := []struct {
		in      string
		want    Algorithm
		wantErr bool
	}{
		{"token_bucket", TokenBucket, false},
		{"Sliding-Window", SlidingWindow, false},
		{" fixed_window ", FixedWindow, false},
		{"leaky_bucket", "", true},
	}
	for _, tt := range tests {
		got, err := ParseAlgorithm(tt.in)
		if (err != nil) != tt.wantErr {
			t.Fatalf("ParseAlgorithm(%q) err = %v", tt.in, err)
		}
		testutil.AssertEqual(t, got, tt.want)
	}
}

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig("strict", "fixed_window:10:1m:5m")
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, cfg, Config{
		Algorithm:     FixedWindow,
		MaxRequests:   10,
		Window:        time.Minute,
		BlockDuration: 5 * time.Minute,
		Prefix:        "strict",
	})
	testutil.AssertEqual(t, cfg.String(), "fixed_window:10:1m0s:5m0s")

	roundTrip, err := ParseConfig("strict", cfg.String())
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, roundTrip, cfg)

	for _, bad := range []string{"", "token_bucket:5", "token_bucket:x:1m", "token_bucket:5:soon", "token_bucket:5:1m:later", "token_bucket:-1:1m", "a:1:1m:1m:1m"} {
		if _, err := ParseConfig("api", bad); err == nil {
			t.Errorf("ParseConfig(%q) should fail", bad)
		}
	}
}

func TestPresetsAreValid(t *testing.T) {
	classes := PresetClasses()
	testutil.AssertEqual(t, len(classes), 5)

	for _, class := range classes {
		cfg, ok := Preset(class)
		if !ok {
			t.Fatalf("missing preset %q", class)
		}
		testutil.AssertNoError(t, cfg.Validate())
		testutil.AssertEqual(t, cfg.Prefix, class)
	}

	if _, ok := Preset("nope"); ok {
		t.Error("unexpected preset")
	}

	all := Presets()
	delete(all, ClassAuth)
	if _, ok := Preset(ClassAuth); !ok {
		t.Error("Presets must return a copy")
	}
}

func TestConfigNamespace(t *testing.T) {
	testutil.AssertEqual(t, Config{}.Namespace(), "default")
	testutil.AssertEqual(t, Config{Prefix: "api"}.Namespace(), "api")
}
