package grpc_control

import (
	"context"
	"fmt"
	"strings"

	"market-stream/src/config"
	"market-stream/src/interfaces"
	"market-stream/src/logger"
	"market-stream/src/subscription"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// ConsumerPrefix namespaces control-plane consumers in the registry.
const ConsumerPrefix = "grpc:"

// ControlService lets operators declare interest without a websocket.
type ControlService struct {
	Config     *config.Config
	ConfigPath string
	Registry   *subscription.Registry
	State      interfaces.IConnectionState
	MarketOpen func() bool
	Logger     *logger.Logger
}

// NewControlService creates a new instance of ControlService
func NewControlService(
	cfg *config.Config,
	cfgPath string,
	registry *subscription.Registry,
	state interfaces.IConnectionState,
	marketOpen func() bool,
	log *logger.Logger,
) *ControlService {
	return &ControlService{
		Config:     cfg,
		ConfigPath: cfgPath,
		Registry:   registry,
		State:      state,
		MarketOpen: marketOpen,
		Logger:     log,
	}
}

// -----------------------------------------------------------------------------

// SetInterest expects {consumer_id, symbols, persist}. With persist the list
// is stored as a watchlist and the config file is rewritten.
func (s *ControlService) SetInterest(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := consumerID(req)
	if err != nil {
		return nil, err
	}

	var symbols []string
	for _, v := range req.GetFields()["symbols"].GetListValue().GetValues() {
		if sym := v.GetStringValue(); sym != "" {
			symbols = append(symbols, sym)
		}
	}
	symbols = subscription.NormalizeSymbols(symbols)

	if err := s.Registry.SetInterest(ctx, ConsumerPrefix+id, symbols); err != nil {
		s.Logger.Warning("Control SetInterest %s: %v", id, err)
		return nil, status.Errorf(codes.Unavailable, "set interest: %v", err)
	}

	if req.GetFields()["persist"].GetBoolValue() && s.Config != nil {
		s.Config.SetWatchlist(id, symbols)
		if err := s.Config.Save(s.ConfigPath); err != nil {
			s.Logger.Error("Failed to persist watchlist %s: %v", id, err)
			return nil, status.Errorf(codes.Internal, "persist: %v", err)
		}
		s.Logger.Info("Watchlist %s saved with %d symbols", id, len(symbols))
	}

	return structpb.NewStruct(map[string]interface{}{
		"consumer_id": id,
		"symbols":     toList(s.Registry.Interest(ConsumerPrefix + id)),
		"union_size":  len(s.Registry.Symbols()),
	})
}

// -----------------------------------------------------------------------------

func (s *ControlService) ClearInterest(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	id, err := consumerID(req)
	if err != nil {
		return nil, err
	}
	if err := s.Registry.ClearInterest(ctx, ConsumerPrefix+id); err != nil {
		return nil, status.Errorf(codes.Unavailable, "clear interest: %v", err)
	}
	return &emptypb.Empty{}, nil
}

// -----------------------------------------------------------------------------

func (s *ControlService) GetStatus(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	out := map[string]interface{}{
		"symbols":   toList(s.Registry.Symbols()),
		"consumers": s.Registry.Consumers(),
		"wildcard":  s.Registry.Wildcard(),
	}
	if s.State != nil {
		out["state"] = string(s.State.State())
	}
	if s.MarketOpen != nil {
		out["market_open"] = s.MarketOpen()
	}
	return structpb.NewStruct(out)
}

// -----------------------------------------------------------------------------

func consumerID(req *structpb.Struct) (string, error) {
	id := strings.TrimSpace(req.GetFields()["consumer_id"].GetStringValue())
	if id == "" {
		return "", status.Error(codes.InvalidArgument, "consumer_id is required")
	}
	if strings.ContainsAny(id, " \t\n") {
		return "", status.Error(codes.InvalidArgument, fmt.Sprintf("invalid consumer_id %q", id))
	}
	return id, nil
}

func toList(symbols []string) []interface{} {
	out := make([]interface{}, len(symbols))
	for i, s := range symbols {
		out[i] = s
	}
	return out
}
