// Package mcpapi provides a stateless MCP streamable-HTTP adapter.
package mcpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/markumedium/loading-server/internal/adapters/server/common"
)

// Config captures MCP transport configuration.
type Config struct {
	ServerName    string
	ServerVersion string
	EndpointPath  string
}

// Handler wraps one stateless MCP streamable HTTP handler.
type Handler struct {
	httpHandler http.Handler
}

// NewHandler builds one stateless MCP adapter exposing the yard tools.
func NewHandler(cfg Config, yard common.YardService) (*Handler, error) {
	if yard == nil {
		return nil, fmt.Errorf("yard service is required")
	}
	cfg = normalizeConfig(cfg)

	mcpSrv := mcpserver.NewMCPServer(
		cfg.ServerName,
		cfg.ServerVersion,
		mcpserver.WithToolCapabilities(false),
	)
	registerVehicleTools(mcpSrv, yard)
	registerTransitionTool(mcpSrv, yard)
	registerReportTools(mcpSrv, yard)

	streamable := mcpserver.NewStreamableHTTPServer(
		mcpSrv,
		mcpserver.WithEndpointPath(cfg.EndpointPath),
		mcpserver.WithStateLess(true),
	)
	return &Handler{httpHandler: streamable}, nil
}

// ServeHTTP handles one MCP streamable HTTP request.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.httpHandler == nil {
		http.Error(w, "mcp handler unavailable", http.StatusServiceUnavailable)
		return
	}
	h.httpHandler.ServeHTTP(w, r)
}

// normalizeConfig applies deterministic defaults to MCP adapter config.
func normalizeConfig(cfg Config) Config {
	cfg.ServerName = strings.TrimSpace(cfg.ServerName)
	if cfg.ServerName == "" {
		cfg.ServerName = "yard"
	}
	cfg.ServerVersion = strings.TrimSpace(cfg.ServerVersion)
	if cfg.ServerVersion == "" {
		cfg.ServerVersion = "dev"
	}
	cfg.EndpointPath = strings.TrimSpace(cfg.EndpointPath)
	if cfg.EndpointPath == "" {
		cfg.EndpointPath = "/mcp"
	}
	if !strings.HasPrefix(cfg.EndpointPath, "/") {
		cfg.EndpointPath = "/" + cfg.EndpointPath
	}
	cfg.EndpointPath = "/" + strings.Trim(cfg.EndpointPath, "/")
	return cfg
}

// registerVehicleTools registers registry read and write tools.
func registerVehicleTools(srv *mcpserver.MCPServer, yard common.YardService) {
	srv.AddTool(
		mcp.NewTool(
			"yard.list_vehicles",
			mcp.WithDescription("List registered vehicles, optionally only those in one status."),
			mcp.WithString("status", mcp.Description("Status filter"), mcp.Enum(common.SupportedStatuses()...)),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			vehicles, err := yard.ListVehicles(ctx, req.GetString("status", ""))
			if err != nil {
				return toolResultFromError(err), nil
			}
			result, err := mcp.NewToolResultJSON(map[string]any{
				"vehicles": vehicles,
			})
			if err != nil {
				return nil, fmt.Errorf("encode list_vehicles result: %w", err)
			}
			return result, nil
		},
	)

	srv.AddTool(
		mcp.NewTool(
			"yard.get_vehicle",
			mcp.WithDescription("Return one vehicle by id."),
			mcp.WithString("vehicle_id", mcp.Required(), mcp.Description("Vehicle identifier")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			vehicleID, err := req.RequireString("vehicle_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			vehicle, err := yard.GetVehicle(ctx, vehicleID)
			if err != nil {
				return toolResultFromError(err), nil
			}
			result, err := mcp.NewToolResultJSON(vehicle)
			if err != nil {
				return nil, fmt.Errorf("encode get_vehicle result: %w", err)
			}
			return result, nil
		},
	)

	srv.AddTool(
		mcp.NewTool(
			"yard.register_vehicle",
			mcp.WithDescription("Register a vehicle; it starts at the yard in cycle 1."),
			mcp.WithString("model", mcp.Required(), mcp.Description("Vehicle model")),
			mcp.WithString("license_plate", mcp.Required(), mcp.Description("License plate")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			model, err := req.RequireString("model")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			plate, err := req.RequireString("license_plate")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			vehicle, err := yard.RegisterVehicle(ctx, common.RegisterVehicleRequest{Model: model, LicensePlate: plate})
			if err != nil {
				return toolResultFromError(err), nil
			}
			result, err := mcp.NewToolResultJSON(vehicle)
			if err != nil {
				return nil, fmt.Errorf("encode register_vehicle result: %w", err)
			}
			return result, nil
		},
	)
}

// registerTransitionTool registers `yard.transition`.
func registerTransitionTool(srv *mcpserver.MCPServer, yard common.YardService) {
	srv.AddTool(
		mcp.NewTool(
			"yard.transition",
			mcp.WithDescription("Move one vehicle to the next state of its trip cycle."),
			mcp.WithString("vehicle_id", mcp.Required(), mcp.Description("Vehicle identifier")),
			mcp.WithString("status", mcp.Required(), mcp.Description("Target status"), mcp.Enum(common.SupportedStatuses()...)),
			mcp.WithString("timestamp", mcp.Description("Event time as YYYY-MM-DD HH:MM:SS; the server clock is used when absent or unreadable")),
			mcp.WithNumber("weight", mcp.Description("Loaded weight, recorded when leaving loading")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			var args struct {
				VehicleID string   `json:"vehicle_id"`
				Status    string   `json:"status"`
				Timestamp string   `json:"timestamp"`
				Weight    *float64 `json:"weight"`
			}
			if err := req.BindArguments(&args); err != nil {
				return mcp.NewToolResultError("invalid_request: " + err.Error()), nil
			}
			if strings.TrimSpace(args.VehicleID) == "" || strings.TrimSpace(args.Status) == "" {
				return mcp.NewToolResultError(`invalid_request: "vehicle_id" and "status" are required`), nil
			}
			res, err := yard.Transition(ctx, common.TransitionRequest{
				VehicleID: args.VehicleID,
				Status:    args.Status,
				Timestamp: args.Timestamp,
				Weight:    args.Weight,
			})
			if err != nil {
				return toolResultFromError(err), nil
			}
			result, err := mcp.NewToolResultJSON(res)
			if err != nil {
				return nil, fmt.Errorf("encode transition result: %w", err)
			}
			return result, nil
		},
	)
}

// registerReportTools registers `yard.report` and `yard.history`.
func registerReportTools(srv *mcpserver.MCPServer, yard common.YardService) {
	rangeOptions := []mcp.ToolOption{
		mcp.WithString("date", mcp.Description("Day as YYYY-MM-DD; defaults to today")),
		mcp.WithString("start", mcp.Description("Range start day, inclusive")),
		mcp.WithString("end", mcp.Description("Range end day, inclusive")),
	}

	srv.AddTool(
		mcp.NewTool(
			"yard.report",
			append([]mcp.ToolOption{
				mcp.WithDescription("Build the active and completed trip tables for one day or a range."),
			}, rangeOptions...)...,
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			reports, err := yard.Reports(ctx, reportRequest(req))
			if err != nil {
				return toolResultFromError(err), nil
			}
			result, err := mcp.NewToolResultJSON(map[string]any{
				"reports": reports,
			})
			if err != nil {
				return nil, fmt.Errorf("encode report result: %w", err)
			}
			return result, nil
		},
	)

	srv.AddTool(
		mcp.NewTool(
			"yard.history",
			append([]mcp.ToolOption{
				mcp.WithDescription("Return raw status events for one day or every day of a range that has data."),
			}, rangeOptions...)...,
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			days, err := yard.History(ctx, reportRequest(req))
			if err != nil {
				return toolResultFromError(err), nil
			}
			result, err := mcp.NewToolResultJSON(map[string]any{
				"days": days,
			})
			if err != nil {
				return nil, fmt.Errorf("encode history result: %w", err)
			}
			return result, nil
		},
	)
}

func reportRequest(req mcp.CallToolRequest) common.ReportRequest {
	return common.ReportRequest{
		Date:  req.GetString("date", ""),
		Start: req.GetString("start", ""),
		End:   req.GetString("end", ""),
	}
}

// toolResultFromError maps service errors into MCP-visible tool errors.
func toolResultFromError(err error) *mcp.CallToolResult {
	switch {
	case err == nil:
		return mcp.NewToolResultError("unknown error")
	case errors.Is(err, common.ErrInvalidRequest):
		return mcp.NewToolResultError("invalid_request: " + err.Error())
	case errors.Is(err, common.ErrNotFound):
		return mcp.NewToolResultError("not_found: " + err.Error())
	case errors.Is(err, common.ErrConflict):
		return mcp.NewToolResultError("illegal_transition: " + err.Error())
	case errors.Is(err, common.ErrUnauthorized):
		return mcp.NewToolResultError("unauthorized: " + err.Error())
	case errors.Is(err, common.ErrUnavailable):
		return mcp.NewToolResultError("service_unavailable: " + err.Error())
	default:
		return mcp.NewToolResultError("internal_error: " + err.Error())
	}
}
