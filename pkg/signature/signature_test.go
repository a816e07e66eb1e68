package signature

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignAndVerify(t *testing.T) {
	body := []byte(`{"name":"Ana","phone":"+5511999990000"}`)

	sig := Sign("whsec_test", body)
	require.Len(t, sig, 64) // hex sha256

	assert.NoError(t, Verify("whsec_test", body, sig))
	assert.ErrorIs(t, Verify("whsec_other", body, sig), ErrInvalid)
	assert.ErrorIs(t, Verify("whsec_test", []byte("tampered"), sig), ErrInvalid)
}

func TestSign_Deterministic(t *testing.T) {
	body := []byte("payload")
	assert.Equal(t, Sign("s", body), Sign("s", body))
}

func TestVerifyTimestamp(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	tests := []struct {
		name      string
		timestamp string
		tolerance time.Duration
		wantErr   error
	}{
		{"empty accepted", "", DefaultTolerance, nil},
		{"current", Timestamp(now), DefaultTolerance, nil},
		{"within window", Timestamp(now.Add(-200 * time.Second)), DefaultTolerance, nil},
		{"too old", Timestamp(now.Add(-301 * time.Second)), DefaultTolerance, ErrExpired},
		{"too far ahead", Timestamp(now.Add(301 * time.Second)), DefaultTolerance, ErrExpired},
		{"garbage", "not-a-number", DefaultTolerance, ErrExpired},
		{"zero tolerance uses default", Timestamp(now.Add(-200 * time.Second)), 0, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := VerifyTimestamp(tt.timestamp, tt.tolerance, now)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
