// Command maker builds, signs and submits a liquidation-protection order to a
// running resolver, or lists the orders it holds.
package main

import (
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alejandrodnm/liqshield/config"
	"github.com/alejandrodnm/liqshield/internal/adapters/apiclient"
	"github.com/alejandrodnm/liqshield/internal/adapters/notify"
	"github.com/alejandrodnm/liqshield/internal/application/resolver"
	"github.com/alejandrodnm/liqshield/internal/domain"
	"github.com/alejandrodnm/liqshield/internal/lop"
	"github.com/alejandrodnm/liqshield/internal/protection"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type options struct {
	resolverURL  string
	makerAsset   string
	takerAsset   string
	makingAmount string
	takingAmount string
	trigger      string
	direction    string
	expiresIn    time.Duration
	chainID      int64
	lop          string
	relay        string
	multicall    string
	pool         string
}

type submitResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	OrderID string `json:"orderId"`
}

func main() {
	var o options
	flag.StringVar(&o.resolverURL, "resolver", "http://localhost:3001", "resolver base URL")
	flag.StringVar(&o.makerAsset, "maker-asset", "", "token the maker sells (address)")
	flag.StringVar(&o.takerAsset, "taker-asset", "", "token the maker receives and supplies to Aave (address)")
	flag.StringVar(&o.makingAmount, "making", "", "making amount in base units")
	flag.StringVar(&o.takingAmount, "taking", "", "taking amount in base units")
	flag.StringVar(&o.trigger, "trigger", "", "trigger price, taker price / maker price")
	flag.StringVar(&o.direction, "direction", "short", "trigger direction: short|long")
	flag.DurationVar(&o.expiresIn, "expires-in", 7*24*time.Hour, "order lifetime, 0 for no expiration")
	flag.Int64Var(&o.chainID, "chain-id", 8453, "chain id")
	flag.StringVar(&o.lop, "lop", config.DefaultLimitOrderProtocol, "limit order protocol address")
	flag.StringVar(&o.relay, "relay", config.DefaultPostInteraction, "post-interaction relay address")
	flag.StringVar(&o.multicall, "multicall", config.DefaultMulticall, "Multicall3 address")
	flag.StringVar(&o.pool, "pool", config.DefaultAavePool, "Aave pool address")
	list := flag.Bool("list", false, "list the resolver's orders and exit")
	flag.Parse()

	_ = godotenv.Load()
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	api := apiclient.New(apiclient.Options{Timeout: 30 * time.Second, MaxRetries: -1})
	base := strings.TrimRight(o.resolverURL, "/")

	if *list {
		if err := listOrders(ctx, api, base); err != nil {
			slog.Error("list orders", "err", err)
			os.Exit(1)
		}
		return
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(os.Getenv("MAKER_PRIVATE_KEY")), "0x"))
	if err != nil {
		slog.Error("MAKER_PRIVATE_KEY is missing or invalid", "err", err)
		os.Exit(1)
	}

	body, err := buildSubmission(o, key, time.Now())
	if err != nil {
		slog.Error("build order", "err", err)
		os.Exit(1)
	}

	var resp submitResponse
	if err := api.PostJSON(ctx, base+"/submit-order", body, &resp); err != nil {
		slog.Error("submit order", "err", err)
		os.Exit(1)
	}
	slog.Info("order submitted", "id", resp.OrderID, "maker", crypto.PubkeyToAddress(key.PublicKey).Hex())
}

// submission mirrors the POST /submit-order body.
type submission struct {
	Order            domain.Order    `json:"order"`
	Signature        string          `json:"signature"`
	Extension        string          `json:"extension"`
	TriggerPrice     decimal.Decimal `json:"triggerPrice"`
	TriggerDirection string          `json:"triggerDirection"`
}

func buildSubmission(o options, key *ecdsa.PrivateKey, now time.Time) (submission, error) {
	maker := crypto.PubkeyToAddress(key.PublicKey)
	for name, v := range map[string]string{"maker-asset": o.makerAsset, "taker-asset": o.takerAsset} {
		if !common.IsHexAddress(v) {
			return submission{}, fmt.Errorf("-%s %q is not an address", name, v)
		}
	}
	making, ok := new(big.Int).SetString(o.makingAmount, 10)
	if !ok || making.Sign() <= 0 {
		return submission{}, fmt.Errorf("-making %q is not a positive integer", o.makingAmount)
	}
	taking, ok := new(big.Int).SetString(o.takingAmount, 10)
	if !ok || taking.Sign() <= 0 {
		return submission{}, fmt.Errorf("-taking %q is not a positive integer", o.takingAmount)
	}
	trigger, err := decimal.NewFromString(o.trigger)
	if err != nil || trigger.Sign() <= 0 {
		return submission{}, fmt.Errorf("-trigger %q is not a positive decimal", o.trigger)
	}
	direction, err := domain.ParseTriggerDirection(o.direction)
	if err != nil {
		return submission{}, err
	}

	takerAsset := common.HexToAddress(o.takerAsset)
	extra, err := protection.Plan{
		Multicall:  common.HexToAddress(o.multicall),
		Pool:       common.HexToAddress(o.pool),
		Relay:      common.HexToAddress(o.relay),
		Asset:      takerAsset,
		Amount:     taking,
		OnBehalfOf: maker,
	}.ExtraData()
	if err != nil {
		return submission{}, err
	}
	ext := lop.Extension{
		PostInteraction: lop.Interaction{Target: common.HexToAddress(o.relay), Data: extra}.Encode(),
	}

	seed, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 96))
	if err != nil {
		return submission{}, fmt.Errorf("salt seed: %w", err)
	}
	traits := lop.DefaultMakerTraits().WithExtension().WithPostInteraction()
	if o.expiresIn > 0 {
		traits = traits.WithExpiration(uint64(now.Add(o.expiresIn).Unix()))
	}

	data := lop.OrderData{
		Salt:         lop.SaltFor(ext, seed),
		Maker:        maker,
		MakerAsset:   common.HexToAddress(o.makerAsset),
		TakerAsset:   takerAsset,
		MakingAmount: making,
		TakingAmount: taking,
		MakerTraits:  traits,
	}
	sig, err := lop.SignOrder(data, o.chainID, common.HexToAddress(o.lop), key)
	if err != nil {
		return submission{}, err
	}

	return submission{
		Order:            domain.OrderFromData(data),
		Signature:        hexutil.Encode(sig),
		Extension:        ext.Hex(),
		TriggerPrice:     trigger,
		TriggerDirection: string(direction),
	}, nil
}

func listOrders(ctx context.Context, api *apiclient.Client, base string) error {
	var orders []domain.StoredOrder
	if err := api.GetJSON(ctx, base+"/orders", &orders); err != nil {
		return err
	}
	r := resolver.NewReconstructor(common.Address{})
	for i := range orders {
		if limit, err := r.Reconstruct(orders[i].Order, orders[i].Extension); err == nil {
			orders[i].Reconstructed = limit
		}
	}
	notify.NewConsole(true).PrintOrders(orders)
	return nil
}
