package storage

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ruteri/groupshare/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testRetry = RetryPolicy{MaxRetries: 3, BaseDelay: 10 * time.Millisecond}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testCID(t *testing.T, data string) interfaces.CID {
	id, err := ComputeCID([]byte(data))
	require.NoError(t, err)
	return id
}

// pinningServer fakes the pinning API and a gateway on one listener.
type pinningServer struct {
	*httptest.Server

	uploads  atomic.Int32
	heads    atomic.Int32
	gets     atomic.Int32
	upload   func(n int32, w http.ResponseWriter, r *http.Request)
	head     func(n int32, w http.ResponseWriter, r *http.Request)
	retrieve func(n int32, w http.ResponseWriter, r *http.Request)
}

func newPinningServer(t *testing.T) *pinningServer {
	ps := &pinningServer{}
	ps.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/pinning/pinFileToIPFS":
			ps.upload(ps.uploads.Add(1), w, r)
		case r.Method == http.MethodHead && strings.HasPrefix(r.URL.Path, "/ipfs/"):
			ps.head(ps.heads.Add(1), w, r)
		case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/ipfs/"):
			ps.retrieve(ps.gets.Add(1), w, r)
		default:
			http.NotFound(w, r)
		}
	}))
	ps.head = func(int32, http.ResponseWriter, *http.Request) {}
	t.Cleanup(ps.Close)
	return ps
}

func (ps *pinningServer) client(t *testing.T, mutate func(*PinningConfig)) *PinningClient {
	cfg := PinningConfig{
		Endpoint:  ps.URL + "/pinning/pinFileToIPFS",
		APIKey:    "key",
		APISecret: "secret",
		Gateway:   ps.URL + "/ipfs",
		Retry:     testRetry,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	c, err := NewPinningClient(cfg, newTestLogger())
	require.NoError(t, err)
	return c
}

func respondCID(w http.ResponseWriter, id interfaces.CID) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(pinResponse{IpfsHash: string(id), PinSize: 42})
}

func TestPinningClient_Upload(t *testing.T) {
	ps := newPinningServer(t)
	id := testCID(t, "encrypted")

	ps.upload = func(_ int32, w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key", r.Header.Get("pinata_api_key"))
		assert.Equal(t, "secret", r.Header.Get("pinata_secret_api_key"))

		file, header, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer file.Close()
		body, _ := io.ReadAll(file)
		assert.Equal(t, "encrypted", string(body))
		assert.Equal(t, "f.txt", header.Filename)

		respondCID(w, id)
	}

	got, err := ps.client(t, nil).Upload(context.Background(), []byte("encrypted"), "f.txt")
	require.NoError(t, err)
	assert.Equal(t, id, got)
	assert.EqualValues(t, 1, ps.uploads.Load())
	assert.EqualValues(t, 1, ps.heads.Load())
}

func TestPinningClient_UploadJWT(t *testing.T) {
	ps := newPinningServer(t)
	id := testCID(t, "jwt")

	ps.upload = func(_ int32, w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer token", r.Header.Get("Authorization"))
		assert.Empty(t, r.Header.Get("pinata_api_key"))
		respondCID(w, id)
	}

	c := ps.client(t, func(cfg *PinningConfig) {
		cfg.APIKey, cfg.APISecret, cfg.JWT = "", "", "token"
	})
	_, err := c.Upload(context.Background(), []byte("jwt"), "f")
	require.NoError(t, err)
}

func TestPinningClient_UploadRetriesRateLimit(t *testing.T) {
	ps := newPinningServer(t)
	id := testCID(t, "retry")

	ps.upload = func(n int32, w http.ResponseWriter, r *http.Request) {
		if n <= 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		respondCID(w, id)
	}

	start := time.Now()
	got, err := ps.client(t, nil).Upload(context.Background(), []byte("retry"), "f")
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, id, got)
	assert.EqualValues(t, 4, ps.uploads.Load())

	var minimum time.Duration
	for _, d := range testRetry.Delays() {
		minimum += d
	}
	assert.Equal(t, 70*time.Millisecond, minimum)
	assert.GreaterOrEqual(t, elapsed, minimum)
}

func TestPinningClient_UploadNonRetryable(t *testing.T) {
	for _, status := range []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			ps := newPinningServer(t)
			ps.upload = func(_ int32, w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", status)
			}

			_, err := ps.client(t, nil).Upload(context.Background(), []byte("x"), "f")
			require.ErrorIs(t, err, interfaces.ErrStoreRejected)
			assert.EqualValues(t, 1, ps.uploads.Load())

			var statusErr *StatusError
			require.ErrorAs(t, err, &statusErr)
			assert.Equal(t, status, statusErr.StatusCode)
		})
	}
}

func TestPinningClient_UploadExhaustsRetries(t *testing.T) {
	ps := newPinningServer(t)
	ps.upload = func(_ int32, w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	_, err := ps.client(t, nil).Upload(context.Background(), []byte("x"), "f")
	require.ErrorIs(t, err, interfaces.ErrStoreUnavailable)
	assert.EqualValues(t, testRetry.MaxRetries+1, ps.uploads.Load())
}

func TestPinningClient_UploadPinValidationFails(t *testing.T) {
	ps := newPinningServer(t)
	ps.upload = func(_ int32, w http.ResponseWriter, r *http.Request) {
		respondCID(w, testCID(t, "unpinned"))
	}
	ps.head = func(_ int32, w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}

	got, err := ps.client(t, nil).Upload(context.Background(), []byte("unpinned"), "f")
	require.ErrorIs(t, err, interfaces.ErrPinValidation)
	assert.Empty(t, got)
	assert.EqualValues(t, 1, ps.heads.Load())
}

func TestPinningClient_UploadRejectsBadCID(t *testing.T) {
	ps := newPinningServer(t)
	ps.upload = func(_ int32, w http.ResponseWriter, r *http.Request) {
		respondCID(w, "bafy-not-a-v0-cid")
	}

	_, err := ps.client(t, nil).Upload(context.Background(), []byte("x"), "f")
	require.ErrorIs(t, err, interfaces.ErrInvalidContentID)
	assert.EqualValues(t, 0, ps.heads.Load())
}

func TestPinningClient_Retrieve(t *testing.T) {
	id := testCID(t, "blob")

	tests := []struct {
		name        string
		primary     func(n int32, w http.ResponseWriter)
		fallback    func(n int32, w http.ResponseWriter)
		want        string
		wantErr     error
		wantPrimary int32
		wantBackup  int32
	}{
		{
			name:        "primary gateway serves content",
			primary:     func(_ int32, w http.ResponseWriter) { w.Write([]byte("blob")) },
			want:        "blob",
			wantPrimary: 1,
		},
		{
			name: "rate limited three times then served",
			primary: func(n int32, w http.ResponseWriter) {
				if n <= 3 {
					w.WriteHeader(http.StatusTooManyRequests)
					return
				}
				w.Write([]byte("blob"))
			},
			want:        "blob",
			wantPrimary: 4,
		},
		{
			name:        "bad request is not retried and skips fallback",
			primary:     func(_ int32, w http.ResponseWriter) { w.WriteHeader(http.StatusBadRequest) },
			fallback:    func(_ int32, w http.ResponseWriter) { w.Write([]byte("blob")) },
			wantErr:     interfaces.ErrInvalidContentID,
			wantPrimary: 1,
		},
		{
			name:        "empty body",
			primary:     func(_ int32, w http.ResponseWriter) { w.WriteHeader(http.StatusOK) },
			wantErr:     interfaces.ErrEmptyContent,
			wantPrimary: 1,
		},
		{
			name:        "falls back when primary is down",
			primary:     func(_ int32, w http.ResponseWriter) { w.WriteHeader(http.StatusBadGateway) },
			fallback:    func(_ int32, w http.ResponseWriter) { w.Write([]byte("blob")) },
			want:        "blob",
			wantPrimary: 4,
			wantBackup:  1,
		},
		{
			name:        "both gateways down",
			primary:     func(_ int32, w http.ResponseWriter) { w.WriteHeader(http.StatusServiceUnavailable) },
			fallback:    func(_ int32, w http.ResponseWriter) { w.WriteHeader(http.StatusTooManyRequests) },
			wantErr:     interfaces.ErrStoreUnavailable,
			wantPrimary: 4,
			wantBackup:  4,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var primaryCalls, backupCalls atomic.Int32

			primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/ipfs/"+string(id), r.URL.Path)
				tt.primary(primaryCalls.Add(1), w)
			}))
			defer primary.Close()

			backup := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				n := backupCalls.Add(1)
				if tt.fallback == nil {
					w.WriteHeader(http.StatusInternalServerError)
					return
				}
				tt.fallback(n, w)
			}))
			defer backup.Close()

			c, err := NewPinningClient(PinningConfig{
				Endpoint:        primary.URL + "/pinning/pinFileToIPFS",
				JWT:             "token",
				Gateway:         primary.URL + "/ipfs/",
				FallbackGateway: backup.URL + "/ipfs",
				Retry:           testRetry,
			}, newTestLogger())
			require.NoError(t, err)

			data, err := c.Retrieve(context.Background(), id)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.want, string(data))
			}
			assert.Equal(t, tt.wantPrimary, primaryCalls.Load(), "primary gateway calls")
			assert.Equal(t, tt.wantBackup, backupCalls.Load(), "fallback gateway calls")
		})
	}
}

func TestPinningClient_RetrieveValidatesCIDFirst(t *testing.T) {
	ps := newPinningServer(t)
	ps.retrieve = func(int32, http.ResponseWriter, *http.Request) {
		t.Error("gateway must not be contacted")
	}

	for _, id := range []interfaces.CID{"", "bafybeigdyrzt5sfp7udm7hu76uh7y26nf3efuylqabf3oclgtqy55fbzdi", "Qmnotbase58!"} {
		_, err := ps.client(t, nil).Retrieve(context.Background(), id)
		require.ErrorIs(t, err, interfaces.ErrInvalidContentID, "cid %q", id)
	}
	assert.EqualValues(t, 0, ps.gets.Load())
}

func TestPinningClient_RetrieveHonoursContext(t *testing.T) {
	ps := newPinningServer(t)
	ps.retrieve = func(_ int32, w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}

	c := ps.client(t, func(cfg *PinningConfig) {
		cfg.Retry = RetryPolicy{MaxRetries: 10, BaseDelay: time.Second}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := c.Retrieve(ctx, testCID(t, "slow"))
	require.ErrorIs(t, err, interfaces.ErrStoreUnavailable)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestNewPinningClient_Credentials(t *testing.T) {
	_, err := NewPinningClient(PinningConfig{APIKey: "key", Retry: testRetry}, newTestLogger())
	require.ErrorIs(t, err, interfaces.ErrInvalidCredentials)

	_, err = NewPinningClient(PinningConfig{JWT: "token", Gateway: "gateway.example", Retry: testRetry}, newTestLogger())
	require.Error(t, err)

	c, err := NewPinningClient(PinningConfig{JWT: "token", Retry: testRetry}, newTestLogger())
	require.NoError(t, err)
	assert.Equal(t, "pinning-api.pinata.cloud", c.Name())
}

func TestRetryPolicy_Delays(t *testing.T) {
	p := RetryPolicy{MaxRetries: 4, BaseDelay: 100 * time.Millisecond}
	assert.Equal(t, []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
	}, p.Delays())

	assert.Error(t, RetryPolicy{MaxRetries: 1}.Validate())
}
