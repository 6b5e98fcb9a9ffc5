package core

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/chainsafe/cubist/internal/command"
	apperrors "github.com/chainsafe/cubist/pkg/app/errors"
	"github.com/chainsafe/cubist/pkg/compile"
	"github.com/chainsafe/cubist/pkg/config"
	"github.com/chainsafe/cubist/pkg/ethereum"
	"github.com/chainsafe/cubist/pkg/keys"
)

// EventHandler receives the decoded arguments of one event, in declaration
// order.
type EventHandler func(args []any) error

// Chain deploys and calls contracts on one target.
type Chain interface {
	Deploy(ctx context.Context, info *compile.ContractInfo, args ...any) (config.Address, error)
	// Call runs a read-only method.
	Call(ctx context.Context, info *compile.ContractInfo, addr config.Address, method string, args ...any) ([]any, error)
	// Send submits a transaction and waits for it to be included.
	Send(ctx context.Context, info *compile.ContractInfo, addr config.Address, method string, args ...any) error
	// Watch streams events emitted after it starts. ready is called once the
	// subscription is in place. A handler error ends the watch.
	Watch(ctx context.Context, info *compile.ContractInfo, addr config.Address, event string, ready func(), handler EventHandler) error
	Accounts(ctx context.Context) ([]config.Address, error)
	Balance(ctx context.Context, addr config.Address) (*big.Int, error)
	Close()
}

// ErrUnsupported is returned by chains that lack an operation.
var ErrUnsupported = errors.New("operation not supported")

// ChainFactory connects to the chain of an endpoint.
type ChainFactory func(ctx context.Context, target config.Target, endpoint config.EndpointConfig) (Chain, error)

// EVMChain talks to an EVM node through an ethereum.Client.
type EVMChain struct {
	client *ethereum.Client
}

// NewEVMChain wraps client.
func NewEVMChain(client *ethereum.Client) *EVMChain {
	return &EVMChain{client: client}
}

// DialEVM connects to the client URL of endpoint and signs with its
// credentials.
func DialEVM(ctx context.Context, endpoint config.EndpointConfig, logger *zap.Logger) (*EVMChain, error) {
	u, err := endpoint.ClientURL()
	if err != nil {
		return nil, apperrors.ConfigurationError(err, "invalid endpoint url")
	}
	wallets, err := keys.FromCreds(endpoint.Credentials())
	if err != nil {
		return nil, apperrors.ConfigurationError(err, "failed to load credentials")
	}
	client, err := ethereum.Dial(ctx, u.String(), wallets, ethereum.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	return NewEVMChain(client), nil
}

func (e *EVMChain) Deploy(ctx context.Context, info *compile.ContractInfo, args ...any) (config.Address, error) {
	if !info.IsEVM() {
		return nil, apperrors.ContractError(nil, fmt.Sprintf("%s is not an EVM contract", info.FQN))
	}
	contract, err := e.client.Deploy(ctx, info.ABI, info.Bytecode, args...)
	if err != nil {
		return nil, apperrors.ContractError(err, fmt.Sprintf("failed to deploy %s", info.FQN))
	}
	return contract.Address().Bytes(), nil
}

func (e *EVMChain) Call(ctx context.Context, info *compile.ContractInfo, addr config.Address, method string, args ...any) ([]any, error) {
	out, err := e.bind(info, addr).Call(ctx, method, args...)
	if err != nil {
		return nil, apperrors.ContractError(err, fmt.Sprintf("call to %s.%s failed", info.FQN.Name, method))
	}
	return out, nil
}

func (e *EVMChain) Send(ctx context.Context, info *compile.ContractInfo, addr config.Address, method string, args ...any) error {
	if _, err := e.bind(info, addr).Transact(ctx, method, args...); err != nil {
		return apperrors.ContractError(err, fmt.Sprintf("transaction %s.%s failed", info.FQN.Name, method))
	}
	return nil
}

func (e *EVMChain) Watch(ctx context.Context, info *compile.ContractInfo, addr config.Address, event string, ready func(), handler EventHandler) error {
	return e.bind(info, addr).WatchEvents(ctx, event, ready, func(ev ethereum.Event) error {
		return handler(ev.Args)
	})
}

func (e *EVMChain) Accounts(context.Context) ([]config.Address, error) {
	accounts := e.client.Accounts()
	out := make([]config.Address, len(accounts))
	for i, a := range accounts {
		out[i] = a.Bytes()
	}
	return out, nil
}

func (e *EVMChain) Balance(ctx context.Context, addr config.Address) (*big.Int, error) {
	return e.client.BalanceAt(ctx, common.BytesToAddress(addr))
}

func (e *EVMChain) Close() { e.client.Close() }

func (e *EVMChain) bind(info *compile.ContractInfo, addr config.Address) *ethereum.Contract {
	return e.client.Bind(common.BytesToAddress(addr), info.ABI)
}

// SorobanNetwork is the network name contracts are deployed to with the
// soroban CLI.
const SorobanNetwork = "standalone"

// SorobanChain deploys and invokes Stellar contracts with the soroban CLI.
// Addresses are contract ids in their textual form.
type SorobanChain struct {
	runner     command.Runner
	httpClient *http.Client
	endpoint   *url.URL
	identities []string
	dir        string
	logger     *zap.Logger
}

// NewSorobanChain returns a chain that funds identities through the
// friendbot at endpoint. Commands run in dir.
func NewSorobanChain(runner command.Runner, httpClient *http.Client, endpoint *url.URL, identities []string, dir string, logger *zap.Logger) *SorobanChain {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SorobanChain{
		runner:     runner,
		httpClient: httpClient,
		endpoint:   endpoint,
		identities: identities,
		dir:        dir,
		logger:     logger,
	}
}

func (s *SorobanChain) source() (string, error) {
	if len(s.identities) == 0 {
		return "", apperrors.ConfigurationError(nil, "no stellar identity configured")
	}
	return s.identities[0], nil
}

func (s *SorobanChain) soroban(ctx context.Context, args ...string) (string, error) {
	out, err := s.runner.Run(ctx, s.dir, "soroban", args...)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func (s *SorobanChain) identityAddress(ctx context.Context, identity string) (string, error) {
	return s.soroban(ctx, "config", "identity", "address", identity)
}

// fund asks the friendbot to create and fund account.
func (s *SorobanChain) fund(ctx context.Context, account string) error {
	u := s.endpoint.JoinPath("friendbot")
	u.RawQuery = url.Values{"addr": {account}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("friendbot request failed: %w", err)
	}
	defer resp.Body.Close()
	// an account that already exists is reported as a bad request
	if resp.StatusCode >= 500 {
		return fmt.Errorf("friendbot returned %s", resp.Status)
	}
	return nil
}

func (s *SorobanChain) Deploy(ctx context.Context, info *compile.ContractInfo, args ...any) (config.Address, error) {
	if info.IsEVM() {
		return nil, apperrors.ContractError(nil, fmt.Sprintf("%s is not a stellar contract", info.FQN))
	}
	if len(args) > 0 {
		return nil, apperrors.ContractError(ErrUnsupported, "stellar contracts take no constructor arguments")
	}
	source, err := s.source()
	if err != nil {
		return nil, err
	}
	account, err := s.identityAddress(ctx, source)
	if err != nil {
		return nil, err
	}
	if err := s.fund(ctx, account); err != nil {
		return nil, apperrors.ContractError(err, fmt.Sprintf("failed to fund %s", source))
	}
	id, err := s.soroban(ctx, "contract", "deploy",
		"--source", source,
		"--network", SorobanNetwork,
		"--wasm", info.Wasm.Path)
	if err != nil {
		return nil, apperrors.ContractError(err, fmt.Sprintf("failed to deploy %s", info.FQN))
	}
	s.logger.Debug("Deployed stellar contract", zap.String("contract", info.FQN.String()), zap.String("id", id))
	return config.Address(id), nil
}

// invokeArgs pairs args with the parameter names of method.
func invokeArgs(info *compile.ContractInfo, method string, args []any) ([]string, error) {
	if info.Wasm == nil || info.Wasm.Spec == nil {
		return nil, fmt.Errorf("no interface for %s", info.FQN)
	}
	fn, ok := info.Wasm.Spec.Function(method)
	if !ok {
		return nil, fmt.Errorf("function %q not found in %s", method, info.FQN)
	}
	if len(fn.Inputs) != len(args) {
		return nil, fmt.Errorf("%s expects %d argument(s), got %d", method, len(fn.Inputs), len(args))
	}
	out := []string{method}
	for i, in := range fn.Inputs {
		out = append(out, "--"+in.Name, FormatArg(args[i]))
	}
	return out, nil
}

// FormatArg renders an argument for the soroban CLI.
func FormatArg(v any) string {
	switch t := v.(type) {
	case common.Address:
		return t.Hex()
	case config.Address:
		return string(t)
	case []byte:
		return common.Bytes2Hex(t)
	case fmt.Stringer:
		return t.String()
	}
	return fmt.Sprint(v)
}

func (s *SorobanChain) invoke(ctx context.Context, info *compile.ContractInfo, addr config.Address, method string, args []any) (string, error) {
	source, err := s.source()
	if err != nil {
		return "", err
	}
	fnArgs, err := invokeArgs(info, method, args)
	if err != nil {
		return "", apperrors.ContractError(err, "invalid stellar invocation")
	}
	cmd := append([]string{"contract", "invoke",
		"--id", string(addr),
		"--source", source,
		"--network", SorobanNetwork,
		"--"}, fnArgs...)
	out, err := s.soroban(ctx, cmd...)
	if err != nil {
		return "", apperrors.ContractError(err, fmt.Sprintf("invocation of %s.%s failed", info.FQN.Name, method))
	}
	return out, nil
}

func (s *SorobanChain) Call(ctx context.Context, info *compile.ContractInfo, addr config.Address, method string, args ...any) ([]any, error) {
	out, err := s.invoke(ctx, info, addr, method, args)
	if err != nil {
		return nil, err
	}
	return []any{out}, nil
}

func (s *SorobanChain) Send(ctx context.Context, info *compile.ContractInfo, addr config.Address, method string, args ...any) error {
	_, err := s.invoke(ctx, info, addr, method, args)
	return err
}

// Watch is not available: stellar contracts are only ever bridge
// destinations.
func (s *SorobanChain) Watch(context.Context, *compile.ContractInfo, config.Address, string, func(), EventHandler) error {
	return fmt.Errorf("stellar events: %w", ErrUnsupported)
}

func (s *SorobanChain) Accounts(ctx context.Context) ([]config.Address, error) {
	out := make([]config.Address, 0, len(s.identities))
	for _, id := range s.identities {
		addr, err := s.identityAddress(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, config.Address(addr))
	}
	return out, nil
}

func (s *SorobanChain) Balance(context.Context, config.Address) (*big.Int, error) {
	return nil, fmt.Errorf("stellar balance: %w", ErrUnsupported)
}

func (s *SorobanChain) Close() {}
