package attachment

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Default lifetimes for credential leases. The collaborator issues
// credentials valid for about ten minutes; the safety margin rotates the
// handle before signing with near-expired credentials, and the refresh
// interval keeps the embedded token fresh during transfers that outlive a
// single Client acquisition.
const (
	DefaultLeaseTTL       = 10 * time.Minute
	DefaultSafetyMargin   = 2 * time.Minute
	DefaultRefreshEvery   = 4 * time.Minute
	absoluteExpiryHorizon = 60 * time.Second
)

// LeaseResponse is the wire payload returned by the credential
// collaborator. ExpiresIn, when present and more than a minute ahead of
// now, is an absolute millisecond timestamp; anything else falls back to
// the default TTL. Credentials with genuinely sub-minute absolute
// lifetimes are indistinguishable from relative values under this
// heuristic and get the default TTL.
type LeaseResponse struct {
	AccessKeyID     string `json:"accessKeyId"`
	AccessKeySecret string `json:"accessKeySecret"`
	SecurityToken   string `json:"securityToken"`
	Bucket          string `json:"bucket"`
	Region          string `json:"region,omitempty"`
	Endpoint        string `json:"endpoint,omitempty"`
	ExpiresIn       int64  `json:"expiresIn,omitempty"`
}

// validate rejects partially populated payloads before they can reach the
// transfer layer.
func (r *LeaseResponse) validate() error {
	if r == nil {
		return ErrInvalidCredentials
	}
	if r.AccessKeyID == "" || r.AccessKeySecret == "" || r.SecurityToken == "" || r.Bucket == "" {
		return ErrInvalidCredentials
	}
	return nil
}

// Lease is an immutable temporary storage credential with a bounded
// validity window. A renewal supersedes the lease with a new value; leases
// are never mutated in place.
type Lease struct {
	AccessKeyID     string
	AccessKeySecret string
	SecurityToken   string
	Bucket          string
	Region          string
	Endpoint        string
	ExpiresAt       time.Time
}

// CredentialSource fetches a credential lease from the external
// collaborator (the chat API's credential-vending endpoint).
type CredentialSource interface {
	FetchCredentials(ctx context.Context) (*LeaseResponse, error)
}

// CredentialSourceFunc adapts a function to the CredentialSource interface.
type CredentialSourceFunc func(ctx context.Context) (*LeaseResponse, error)

// FetchCredentials implements CredentialSource.
func (f CredentialSourceFunc) FetchCredentials(ctx context.Context) (*LeaseResponse, error) {
	return f(ctx)
}

// HandleFactory builds a storage handle for a lease. refresh is invoked by
// the handle every refreshEvery during long-running transfers and returns
// the superseding lease. Overridable for tests.
type HandleFactory func(lease *Lease, refresh RefreshFunc, refreshEvery time.Duration, log *slog.Logger) (BlobStore, error)

// RefreshFunc renews the broker's lease and returns the new value.
type RefreshFunc func(ctx context.Context) (*Lease, error)

// Broker owns the credential lease and the shared storage handle. All
// lease and handle mutations are serialized through the broker; callers
// only ever see the current handle via Client. Concurrent Client calls
// while a fetch is in flight coalesce onto that one fetch.
type Broker struct {
	source       CredentialSource
	newHandle    HandleFactory
	log          *slog.Logger
	now          func() time.Time
	defaultTTL   time.Duration
	safetyMargin time.Duration
	refreshEvery time.Duration

	group singleflight.Group

	mu        sync.Mutex
	handle    BlobStore
	expiresAt time.Time
}

// BrokerOption configures a Broker.
type BrokerOption func(*Broker)

// WithBrokerLogger sets the logger used for lease lifecycle events.
func WithBrokerLogger(log *slog.Logger) BrokerOption {
	return func(b *Broker) { b.log = log }
}

// WithLeaseTTL overrides the default TTL applied when the collaborator
// response carries no usable absolute expiry.
func WithLeaseTTL(ttl time.Duration) BrokerOption {
	return func(b *Broker) { b.defaultTTL = ttl }
}

// WithSafetyMargin overrides how long before expiry the handle is rebuilt.
func WithSafetyMargin(margin time.Duration) BrokerOption {
	return func(b *Broker) { b.safetyMargin = margin }
}

// WithRefreshInterval overrides the handle's periodic token renewal.
func WithRefreshInterval(every time.Duration) BrokerOption {
	return func(b *Broker) { b.refreshEvery = every }
}

// WithHandleFactory replaces the storage handle constructor. Used by tests
// to substitute a fake blob store.
func WithHandleFactory(f HandleFactory) BrokerOption {
	return func(b *Broker) { b.newHandle = f }
}

// withClock overrides the broker's time source for tests.
func withClock(now func() time.Time) BrokerOption {
	return func(b *Broker) { b.now = now }
}

// NewBroker creates a Broker over the given credential source. No network
// activity happens until the first Client call.
func NewBroker(source CredentialSource, opts ...BrokerOption) *Broker {
	b := &Broker{
		source:       source,
		newHandle:    newS3Handle,
		log:          slog.Default(),
		now:          time.Now,
		defaultTTL:   DefaultLeaseTTL,
		safetyMargin: DefaultSafetyMargin,
		refreshEvery: DefaultRefreshEvery,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Client returns the shared storage handle, creating or rebuilding it when
// absent or within the safety margin of expiry. Concurrent callers during
// a creation window await the same underlying fetch; a failed fetch resets
// the broker so the next call retries, and the error propagates to every
// caller that awaited the attempt.
func (b *Broker) Client(ctx context.Context) (BlobStore, error) {
	if h, ok := b.current(); ok {
		return h, nil
	}

	v, err, _ := b.group.Do("lease", func() (any, error) {
		// Another waiter may have finished the rebuild while this call
		// was queued behind the flight.
		if h, ok := b.current(); ok {
			return h, nil
		}
		return b.rebuild(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(BlobStore), nil
}

// current returns the handle when it exists and is comfortably inside its
// validity window.
func (b *Broker) current() (BlobStore, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.handle == nil {
		return nil, false
	}
	if !b.now().Before(b.expiresAt.Add(-b.safetyMargin)) {
		return nil, false
	}
	return b.handle, true
}

// rebuild fetches a fresh lease and replaces the shared handle. The old
// handle is closed to stop its renewal timer; transfers already running on
// it are unaffected.
func (b *Broker) rebuild(ctx context.Context) (BlobStore, error) {
	lease, err := b.fetchLease(ctx)
	if err != nil {
		return nil, err
	}

	handle, err := b.newHandle(lease, b.renewLease, b.refreshEvery, b.log)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	old := b.handle
	b.handle = handle
	b.expiresAt = lease.ExpiresAt
	b.mu.Unlock()

	if old != nil {
		old.Close()
	}

	b.log.Debug("storage handle rebuilt",
		slog.Time("lease_expires_at", lease.ExpiresAt),
		slog.String("bucket", lease.Bucket))

	return handle, nil
}

// renewLease repeats the fetch-and-validate sequence on behalf of a handle
// whose periodic renewal fired, and keeps the broker's tracked expiry
// consistent with the token the handle now carries.
func (b *Broker) renewLease(ctx context.Context) (*Lease, error) {
	lease, err := b.fetchLease(ctx)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	b.expiresAt = lease.ExpiresAt
	b.mu.Unlock()

	b.log.Debug("lease renewed", slog.Time("lease_expires_at", lease.ExpiresAt))
	return lease, nil
}

// fetchLease calls the credential source and converts the validated
// payload into an immutable lease.
func (b *Broker) fetchLease(ctx context.Context) (*Lease, error) {
	resp, err := b.source.FetchCredentials(ctx)
	if err != nil {
		return nil, err
	}
	if err := resp.validate(); err != nil {
		return nil, err
	}

	return &Lease{
		AccessKeyID:     resp.AccessKeyID,
		AccessKeySecret: resp.AccessKeySecret,
		SecurityToken:   resp.SecurityToken,
		Bucket:          resp.Bucket,
		Region:          resp.Region,
		Endpoint:        resp.Endpoint,
		ExpiresAt:       b.leaseExpiry(resp.ExpiresIn),
	}, nil
}

// leaseExpiry resolves the collaborator's expiresIn field: a value more
// than a minute ahead of now is treated as an absolute millisecond
// timestamp, anything else falls back to the default TTL.
func (b *Broker) leaseExpiry(expiresIn int64) time.Time {
	now := b.now()
	if expiresIn > 0 {
		at := time.UnixMilli(expiresIn)
		if at.After(now.Add(absoluteExpiryHorizon)) {
			return at
		}
	}
	return now.Add(b.defaultTTL)
}
