package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"k8s.io/apimachinery/pkg/util/validation/field"
)

// Environment variable names for distributor server configuration
const (
	EnvDistributorPort               = "DISTRIBUTOR_PORT"
	EnvDistributorAuthorityAddress   = "DISTRIBUTOR_AUTHORITY_ADDRESS"
	EnvDistributorOwnerAddress       = "DISTRIBUTOR_OWNER_ADDRESS"
	EnvDistributorClaimWindow        = "DISTRIBUTOR_CLAIM_WINDOW"
	EnvDistributorTransferGate       = "DISTRIBUTOR_TRANSFER_GATE"
	EnvDistributorLedgerFunding      = "DISTRIBUTOR_LEDGER_AUTHORITY_BALANCE"
	EnvDistributorChainID            = "DISTRIBUTOR_CHAIN_ID"
	EnvDistributorRPCURL             = "DISTRIBUTOR_RPC_URL"
	EnvDistributorTreasuryPrivateKey = "DISTRIBUTOR_TREASURY_PRIVATE_KEY"
	EnvDistributorPersistence        = "DISTRIBUTOR_PERSISTENCE"
	EnvDistributorDataDir            = "DISTRIBUTOR_DATA_DIR"
	EnvDistributorRedisAddress       = "DISTRIBUTOR_REDIS_ADDRESS"
	EnvDistributorRedisPassword      = "DISTRIBUTOR_REDIS_PASSWORD"
	EnvDistributorRedisDB            = "DISTRIBUTOR_REDIS_DB"
	EnvDistributorRedisKeyPrefix     = "DISTRIBUTOR_REDIS_KEY_PREFIX"
	EnvDistributorRateLimit          = "DISTRIBUTOR_RATE_LIMIT"
	EnvDistributorRateBurst          = "DISTRIBUTOR_RATE_BURST"
	EnvDistributorVerbose            = "DISTRIBUTOR_VERBOSE"

	// Client side
	EnvDistributorURL        = "DISTRIBUTOR_URL"
	EnvDistributorPrivateKey = "DISTRIBUTOR_PRIVATE_KEY"
)

// DefaultClaimWindow is the claim window used when none is configured
const DefaultClaimWindow = 90 * 24 * time.Hour

type TransferGateType string

const (
	TransferGateLedger   TransferGateType = "ledger"
	TransferGateEthereum TransferGateType = "ethereum"
)

type PersistenceType string

const (
	PersistenceMemory PersistenceType = "memory"
	PersistenceBadger PersistenceType = "badger"
	PersistenceRedis  PersistenceType = "redis"
)

type ChainId uint

const (
	ChainId_EthereumMainnet ChainId = 1
	ChainId_EthereumSepolia ChainId = 11155111
	ChainId_EthereumAnvil   ChainId = 31337
)

type ChainName string

const (
	ChainName_EthereumMainnet ChainName = "mainnet"
	ChainName_EthereumSepolia ChainName = "sepolia"
	ChainName_EthereumAnvil   ChainName = "devnet"
)

var ChainIdToName = map[ChainId]ChainName{
	ChainId_EthereumMainnet: ChainName_EthereumMainnet,
	ChainId_EthereumSepolia: ChainName_EthereumSepolia,
	ChainId_EthereumAnvil:   ChainName_EthereumAnvil,
}
var ChainNameToId = map[ChainName]ChainId{
	ChainName_EthereumMainnet: ChainId_EthereumMainnet,
	ChainName_EthereumSepolia: ChainId_EthereumSepolia,
	ChainName_EthereumAnvil:   ChainId_EthereumAnvil,
}

// FeePolicy controls how EIP-1559 fees are derived from the latest header
type FeePolicy struct {
	// FallbackGasTipCap is used when the node doesn't support eth_maxPriorityFeePerGas
	FallbackGasTipCap uint64
	// BaseFeeMultiplier is applied to the base fee to compute maxFeePerGas
	BaseFeeMultiplier int64
}

// GetFeePolicyForChain returns the fee policy for a chain
func GetFeePolicyForChain(chainId ChainId) FeePolicy {
	switch chainId {
	case ChainId_EthereumMainnet, ChainId_EthereumSepolia:
		return FeePolicy{FallbackGasTipCap: 1500000000, BaseFeeMultiplier: 3} // 1.5 gwei, 3x
	case ChainId_EthereumAnvil:
		return FeePolicy{FallbackGasTipCap: 1000000, BaseFeeMultiplier: 2} // 0.001 gwei, 2x
	default:
		return FeePolicy{FallbackGasTipCap: 1500000000, BaseFeeMultiplier: 3}
	}
}

// GetReceiptPollIntervalForChain returns how often to poll for a transaction receipt
func GetReceiptPollIntervalForChain(chainId ChainId) time.Duration {
	switch chainId {
	case ChainId_EthereumMainnet, ChainId_EthereumSepolia:
		return 3 * time.Second // 12s blocks
	case ChainId_EthereumAnvil:
		return 500 * time.Millisecond
	default:
		return 3 * time.Second
	}
}

// IsEthereum reports whether the chain ID is a known ethereum network
func IsEthereum(chainId ChainId) bool {
	_, ok := ChainIdToName[chainId]
	return ok
}

// DistributorServerConfig represents the complete configuration for a distributor server
type DistributorServerConfig struct {
	Port int `json:"port"`

	// Privileged identities
	AuthorityAddress string `json:"authority_address"`
	OwnerAddress     string `json:"owner_address"` // must differ from the authority

	ClaimWindow time.Duration `json:"claim_window"`

	// Transfer gate
	TransferGate TransferGateType `json:"transfer_gate"`
	// LedgerAuthorityBalance pre-funds the authority on the ledger gate (decimal base units)
	LedgerAuthorityBalance string `json:"ledger_authority_balance"`

	// Chain configuration (ethereum gate only)
	ChainID            ChainId   `json:"chain_id"`
	ChainName          ChainName `json:"chain_name"`
	RpcUrl             string    `json:"rpc_url"`
	TreasuryPrivateKey string    `json:"-"`

	// Persistence
	Persistence    PersistenceType `json:"persistence"`
	DataDir        string          `json:"data_dir"`
	RedisAddress   string          `json:"redis_address"`
	RedisPassword  string          `json:"-"`
	RedisDB        int             `json:"redis_db"`
	RedisKeyPrefix string          `json:"redis_key_prefix"`

	// HTTP rate limit, requests per second and burst
	RateLimit float64 `json:"rate_limit"`
	RateBurst int     `json:"rate_burst"`

	Debug   bool `json:"debug"`
	Verbose bool `json:"verbose"`
}

// Validate validates the distributor server configuration and fills derived
// fields (claim window default, chain name). All problems are reported together.
func (c *DistributorServerConfig) Validate() error {
	var allErrors field.ErrorList

	if c.AuthorityAddress == "" {
		allErrors = append(allErrors, field.Required(field.NewPath("authorityAddress"), "authority address is required"))
	} else if !common.IsHexAddress(c.AuthorityAddress) {
		allErrors = append(allErrors, field.Invalid(field.NewPath("authorityAddress"), c.AuthorityAddress, "not a hex address"))
	}

	if c.OwnerAddress == "" {
		allErrors = append(allErrors, field.Required(field.NewPath("ownerAddress"), "owner address is required"))
	} else if !common.IsHexAddress(c.OwnerAddress) {
		allErrors = append(allErrors, field.Invalid(field.NewPath("ownerAddress"), c.OwnerAddress, "not a hex address"))
	} else if common.IsHexAddress(c.AuthorityAddress) && common.HexToAddress(c.OwnerAddress) == common.HexToAddress(c.AuthorityAddress) {
		allErrors = append(allErrors, field.Invalid(field.NewPath("ownerAddress"), c.OwnerAddress, "must differ from the authority address"))
	}

	if c.Port < 1 || c.Port > 65535 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("port"), c.Port, "must be between 1-65535"))
	}

	if c.ClaimWindow == 0 {
		c.ClaimWindow = DefaultClaimWindow
	} else if c.ClaimWindow < time.Second {
		allErrors = append(allErrors, field.Invalid(field.NewPath("claimWindow"), c.ClaimWindow.String(), "must be at least 1s"))
	}

	switch c.TransferGate {
	case TransferGateLedger:
		if c.LedgerAuthorityBalance != "" {
			if _, err := uint256.FromDecimal(c.LedgerAuthorityBalance); err != nil {
				allErrors = append(allErrors, field.Invalid(field.NewPath("ledgerAuthorityBalance"), c.LedgerAuthorityBalance, "not a decimal integer"))
			}
		}
	case TransferGateEthereum:
		chainName, exists := ChainIdToName[c.ChainID]
		if !exists {
			allErrors = append(allErrors, field.NotSupported(field.NewPath("chainId"), c.ChainID, GetSupportedChainIDsStrings()))
		} else {
			c.ChainName = chainName
		}
		if c.RpcUrl == "" {
			allErrors = append(allErrors, field.Required(field.NewPath("rpcUrl"), "rpc url is required for the ethereum transfer gate"))
		}
		if err := validatePrivateKey(c.TreasuryPrivateKey); err != nil {
			allErrors = append(allErrors, field.Invalid(field.NewPath("treasuryPrivateKey"), "<redacted>", err.Error()))
		}
	default:
		allErrors = append(allErrors, field.NotSupported(field.NewPath("transferGate"), c.TransferGate,
			[]string{string(TransferGateLedger), string(TransferGateEthereum)}))
	}

	switch c.Persistence {
	case PersistenceMemory:
	case PersistenceBadger:
		if c.DataDir == "" {
			allErrors = append(allErrors, field.Required(field.NewPath("dataDir"), "data dir is required for badger persistence"))
		}
	case PersistenceRedis:
		if c.RedisAddress == "" {
			allErrors = append(allErrors, field.Required(field.NewPath("redisAddress"), "redis address is required for redis persistence"))
		}
		if c.RedisDB < 0 || c.RedisDB > 15 {
			allErrors = append(allErrors, field.Invalid(field.NewPath("redisDb"), c.RedisDB, "must be between 0-15"))
		}
	default:
		allErrors = append(allErrors, field.NotSupported(field.NewPath("persistence"), c.Persistence,
			[]string{string(PersistenceMemory), string(PersistenceBadger), string(PersistenceRedis)}))
	}

	if c.RateLimit < 0 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("rateLimit"), c.RateLimit, "must not be negative"))
	}
	if c.RateLimit > 0 && c.RateBurst < 1 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("rateBurst"), c.RateBurst, "must be at least 1 when rate limiting"))
	}

	if len(allErrors) > 0 {
		return allErrors.ToAggregate()
	}
	return nil
}

// Authority returns the parsed authority address. Call after Validate.
func (c *DistributorServerConfig) Authority() common.Address {
	return common.HexToAddress(c.AuthorityAddress)
}

// Owner returns the parsed owner address. Call after Validate.
func (c *DistributorServerConfig) Owner() common.Address {
	return common.HexToAddress(c.OwnerAddress)
}

func validatePrivateKey(key string) error {
	if key == "" {
		return fmt.Errorf("private key cannot be empty")
	}
	if !strings.HasPrefix(key, "0x") {
		key = "0x" + key
	}
	if len(key) != 66 { // 0x + 64 hex chars
		return fmt.Errorf("private key must be 32 bytes (64 hex chars), got %d chars", len(key)-2)
	}
	return nil
}

// GetSupportedChainIDs returns all supported chain IDs
func GetSupportedChainIDs() []ChainId {
	return []ChainId{
		ChainId_EthereumMainnet,
		ChainId_EthereumSepolia,
		ChainId_EthereumAnvil,
	}
}

// GetSupportedChainIDsString returns supported chain IDs as strings for CLI help
func GetSupportedChainIDsString() string {
	return fmt.Sprintf("%d (mainnet), %d (sepolia), %d (anvil)",
		ChainId_EthereumMainnet, ChainId_EthereumSepolia, ChainId_EthereumAnvil)
}

// GetSupportedChainIDsStrings returns supported chain IDs for validation messages
func GetSupportedChainIDsStrings() []string {
	ids := GetSupportedChainIDs()
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, fmt.Sprintf("%d", id))
	}
	return out
}
