package flags

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/ruteri/groupshare/common"
	"github.com/ruteri/groupshare/config"
	"github.com/ruteri/groupshare/httpserver"
	"github.com/ruteri/groupshare/ledger"
	"github.com/ruteri/groupshare/storage"
	"github.com/urfave/cli/v2"
)

func SetupLogger(cCtx *cli.Context) (log *slog.Logger) {
	logJSON := cCtx.Bool(LogJsonFlag.Name)
	logDebug := cCtx.Bool(LogDebugFlag.Name)
	logUID := cCtx.Bool(LogUidFlag.Name)
	logService := cCtx.String(LogServiceFlag.Name)

	logger := common.SetupLogger(&common.LoggingOpts{
		Debug:   logDebug,
		JSON:    logJSON,
		Service: logService,
		Version: common.Version,
	})

	if logUID {
		id := uuid.Must(uuid.NewRandom())
		logger = logger.With("uid", id.String())
	}
	return logger
}

func ConfigureServer(cCtx *cli.Context, logger *slog.Logger) *httpserver.HTTPServerConfig {
	drainDuration := time.Duration(cCtx.Int64(DrainSecondsFlag.Name)) * time.Second

	return &httpserver.HTTPServerConfig{
		ListenAddr:               cCtx.String(ListenAddrFlag.Name),
		MetricsAddr:              cCtx.String(MetricsAddrFlag.Name),
		Log:                      logger,
		EnablePprof:              cCtx.Bool(PprofFlag.Name),
		RateLimit:                cCtx.Float64(RateLimitFlag.Name),
		RateBurst:                cCtx.Int(RateBurstFlag.Name),
		DrainDuration:            drainDuration,
		GracefulShutdownDuration: 30 * time.Second,
		ReadTimeout:              60 * time.Second,
		WriteTimeout:             cCtx.Duration(SagaTimeoutFlag.Name) + 30*time.Second,
	}
}

// AuthFromCLI reads the service adapter credentials. Values may be Vault
// references, resolved by config.Open.
func AuthFromCLI(cCtx *cli.Context) httpserver.AuthConfig {
	return httpserver.AuthConfig{
		AdminToken:        cCtx.String(AdminTokenFlag.Name),
		UserTokenSecret:   cCtx.String(UserTokenSecretFlag.Name),
		TrustedProxyToken: cCtx.String(TrustedProxyTokenFlag.Name),
	}
}

// ConfigFromCLI builds the pipeline configuration from the ledger, store and
// transfer flags.
func ConfigFromCLI(cCtx *cli.Context) *config.Config {
	return &config.Config{
		Ledger: ledger.Options{
			Backend:         cCtx.String(LedgerBackendFlag.Name),
			RPCURL:          cCtx.String(RpcAddrFlag.Name),
			Contract:        cCtx.String(ContractFlag.Name),
			SigningKey:      cCtx.String(SigningKeyFlag.Name),
			ChainID:         cCtx.Int64(ChainIDFlag.Name),
			FinalityTimeout: cCtx.Duration(FinalityTimeoutFlag.Name),
			Deposit:         cCtx.String(DepositFlag.Name),
			GasLimit:        cCtx.Uint64(GasLimitFlag.Name),
			Owner:           cCtx.String(MemoryOwnerFlag.Name),
		},
		Store: storage.Options{
			Location:        cCtx.String(StoreFlag.Name),
			APIKey:          cCtx.String(StoreAPIKeyFlag.Name),
			APISecret:       cCtx.String(StoreAPISecretFlag.Name),
			JWT:             cCtx.String(StoreJWTFlag.Name),
			Gateway:         cCtx.String(GatewayFlag.Name),
			FallbackGateway: cCtx.String(FallbackGatewayFlag.Name),
			CIDPrefix:       cCtx.String(CIDPrefixFlag.Name),
			Retry: storage.RetryPolicy{
				MaxRetries: cCtx.Uint64(StoreRetriesFlag.Name),
				BaseDelay:  cCtx.Duration(StoreRetryDelayFlag.Name),
			},
			RequestTimeout: cCtx.Duration(StoreTimeoutFlag.Name),
		},
		SagaTimeout:    cCtx.Duration(SagaTimeoutFlag.Name),
		MaxUploadBytes: cCtx.Int64(MaxUploadBytesFlag.Name),
	}
}

var LedgerBackendFlag = &cli.StringFlag{
	Name:    "ledger",
	Value:   ledger.BackendEVM,
	Usage:   "ledger backend: 'evm' or 'memory'",
	EnvVars: []string{"GROUPSHARE_LEDGER"},
}

var RpcAddrFlag = &cli.StringFlag{
	Name:    "rpc-addr",
	Value:   "http://127.0.0.1:8545",
	Usage:   "address to connect to RPC",
	EnvVars: []string{"GROUPSHARE_RPC_ADDR"},
}

var ContractFlag = &cli.StringFlag{
	Name:    "contract",
	Usage:   "group registry contract address, 0x-prefixed hex",
	EnvVars: []string{"GROUPSHARE_CONTRACT"},
}

var SigningKeyFlag = &cli.StringFlag{
	Name:    "signing-key",
	Usage:   "hex-encoded secp256k1 key that signs ledger calls",
	EnvVars: []string{"GROUPSHARE_SIGNING_KEY"},
}

var ChainIDFlag = &cli.Int64Flag{
	Name:    "chain-id",
	Value:   0,
	Usage:   "chain id, queried from the RPC endpoint when 0",
	EnvVars: []string{"GROUPSHARE_CHAIN_ID"},
}

var FinalityTimeoutFlag = &cli.DurationFlag{
	Name:    "finality-timeout",
	Value:   time.Minute,
	Usage:   "how long to wait for a ledger call to be mined",
	EnvVars: []string{"GROUPSHARE_FINALITY_TIMEOUT"},
}

var DepositFlag = &cli.StringFlag{
	Name:    "deposit",
	Value:   "",
	Usage:   "wei attached to every ledger call, in decimal",
	EnvVars: []string{"GROUPSHARE_DEPOSIT"},
}

var GasLimitFlag = &cli.Uint64Flag{
	Name:    "gas-limit",
	Value:   0,
	Usage:   "gas limit per ledger call, estimated when 0",
	EnvVars: []string{"GROUPSHARE_GAS_LIMIT"},
}

var MemoryOwnerFlag = &cli.StringFlag{
	Name:    "memory-owner",
	Value:   "owner",
	Usage:   "owner of the in-memory ledger (development)",
	EnvVars: []string{"GROUPSHARE_MEMORY_OWNER"},
}

var StoreFlag = &cli.StringFlag{
	Name:    "store",
	Value:   "pinata://api.pinata.cloud",
	Usage:   "content store URI: pinata://host[/path], ipfs://host:port or file:///path",
	EnvVars: []string{"GROUPSHARE_STORE"},
}

var StoreAPIKeyFlag = &cli.StringFlag{
	Name:    "store-api-key",
	Usage:   "pinning service API key",
	EnvVars: []string{"GROUPSHARE_STORE_API_KEY"},
}

var StoreAPISecretFlag = &cli.StringFlag{
	Name:    "store-api-secret",
	Usage:   "pinning service API secret",
	EnvVars: []string{"GROUPSHARE_STORE_API_SECRET"},
}

var StoreJWTFlag = &cli.StringFlag{
	Name:    "store-jwt",
	Usage:   "pinning service JWT, used instead of the key and secret",
	EnvVars: []string{"GROUPSHARE_STORE_JWT"},
}

var GatewayFlag = &cli.StringFlag{
	Name:    "gateway",
	Value:   "https://gateway.pinata.cloud/ipfs",
	Usage:   "primary IPFS gateway base URL",
	EnvVars: []string{"GROUPSHARE_GATEWAY"},
}

var FallbackGatewayFlag = &cli.StringFlag{
	Name:    "fallback-gateway",
	Value:   "https://ipfs.io/ipfs",
	Usage:   "gateway tried when the primary fails",
	EnvVars: []string{"GROUPSHARE_FALLBACK_GATEWAY"},
}

var CIDPrefixFlag = &cli.StringFlag{
	Name:    "cid-prefix",
	Value:   storage.DefaultCIDPrefix,
	Usage:   "required prefix of content identifiers",
	EnvVars: []string{"GROUPSHARE_CID_PREFIX"},
}

var StoreRetriesFlag = &cli.Uint64Flag{
	Name:    "store-retries",
	Value:   storage.DefaultRetryPolicy.MaxRetries,
	Usage:   "retries of transient content store failures",
	EnvVars: []string{"GROUPSHARE_STORE_RETRIES"},
}

var StoreRetryDelayFlag = &cli.DurationFlag{
	Name:    "store-retry-delay",
	Value:   storage.DefaultRetryPolicy.BaseDelay,
	Usage:   "first retry delay, doubled on every attempt",
	EnvVars: []string{"GROUPSHARE_STORE_RETRY_DELAY"},
}

var StoreTimeoutFlag = &cli.DurationFlag{
	Name:    "store-timeout",
	Value:   30 * time.Second,
	Usage:   "timeout of a single content store request",
	EnvVars: []string{"GROUPSHARE_STORE_TIMEOUT"},
}

var SagaTimeoutFlag = &cli.DurationFlag{
	Name:    "saga-timeout",
	Value:   config.DefaultSagaTimeout,
	Usage:   "upper bound of one upload or retrieval",
	EnvVars: []string{"GROUPSHARE_SAGA_TIMEOUT"},
}

var MaxUploadBytesFlag = &cli.Int64Flag{
	Name:    "max-upload-bytes",
	Value:   config.DefaultMaxUploadBytes,
	Usage:   "largest accepted upload",
	EnvVars: []string{"GROUPSHARE_MAX_UPLOAD_BYTES"},
}

var ListenAddrFlag = &cli.StringFlag{
	Name:    "listen-addr",
	Value:   "127.0.0.1:8080",
	Usage:   "address to listen on for API",
	EnvVars: []string{"GROUPSHARE_LISTEN_ADDR"},
}

var AdminTokenFlag = &cli.StringFlag{
	Name:    "admin-token",
	Usage:   "bearer token of the group management routes, disabled when empty",
	EnvVars: []string{"GROUPSHARE_ADMIN_TOKEN"},
}

var UserTokenSecretFlag = &cli.StringFlag{
	Name:    "user-token-secret",
	Usage:   "HS256 secret of user bearer tokens, at least 32 characters",
	EnvVars: []string{"GROUPSHARE_USER_TOKEN_SECRET"},
}

var TrustedProxyTokenFlag = &cli.StringFlag{
	Name:    "trusted-proxy-token",
	Usage:   "token a trusted proxy sends in X-Proxy-Token to assert X-User-Id",
	EnvVars: []string{"GROUPSHARE_TRUSTED_PROXY_TOKEN"},
}

var RateLimitFlag = &cli.Float64Flag{
	Name:    "rate-limit",
	Value:   10,
	Usage:   "requests per second per client, 0 disables limiting",
	EnvVars: []string{"GROUPSHARE_RATE_LIMIT"},
}

var RateBurstFlag = &cli.IntFlag{
	Name:    "rate-burst",
	Value:   20,
	Usage:   "request burst per client",
	EnvVars: []string{"GROUPSHARE_RATE_BURST"},
}

var LogJsonFlag = &cli.BoolFlag{
	Name:  "log-json",
	Value: false,
	Usage: "log in JSON format",
}
var LogDebugFlag = &cli.BoolFlag{
	Name:  "log-debug",
	Value: false,
	Usage: "log debug messages",
}
var LogUidFlag = &cli.BoolFlag{
	Name:  "log-uid",
	Value: false,
	Usage: "generate a uuid and add to all log messages",
}
var LogServiceFlag = &cli.StringFlag{
	Name:  "log-service",
	Value: common.PackageName,
	Usage: "add 'service' tag to logs",
}

var PprofFlag = &cli.BoolFlag{
	Name:  "pprof",
	Value: false,
	Usage: "enable pprof debug endpoint",
}
var DrainSecondsFlag = &cli.Int64Flag{
	Name:  "drain-seconds",
	Value: 45,
	Usage: "seconds to wait in drain HTTP request",
}
var MetricsAddrFlag = &cli.StringFlag{
	Name:    "metrics-addr",
	Value:   "127.0.0.1:8090",
	Usage:   "address to listen on for Prometheus metrics",
	EnvVars: []string{"GROUPSHARE_METRICS_ADDR"},
}

var LogFlags = []cli.Flag{
	LogJsonFlag,
	LogDebugFlag,
	LogUidFlag,
	LogServiceFlag,
}

var PipelineFlags = []cli.Flag{
	LedgerBackendFlag,
	RpcAddrFlag,
	ContractFlag,
	SigningKeyFlag,
	ChainIDFlag,
	FinalityTimeoutFlag,
	DepositFlag,
	GasLimitFlag,
	MemoryOwnerFlag,
	StoreFlag,
	StoreAPIKeyFlag,
	StoreAPISecretFlag,
	StoreJWTFlag,
	GatewayFlag,
	FallbackGatewayFlag,
	CIDPrefixFlag,
	StoreRetriesFlag,
	StoreRetryDelayFlag,
	StoreTimeoutFlag,
	SagaTimeoutFlag,
	MaxUploadBytesFlag,
}

var ServerFlags = []cli.Flag{
	ListenAddrFlag,
	MetricsAddrFlag,
	AdminTokenFlag,
	UserTokenSecretFlag,
	TrustedProxyTokenFlag,
	RateLimitFlag,
	RateBurstFlag,
	PprofFlag,
	DrainSecondsFlag,
}
