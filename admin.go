package lnaddrd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/lnaddrd/lnaddrd/logger"
)

// The admin surface is JSON-RPC 2.0 over the admin listener. Methods
// accept positional arrays, named objects or a bare string for
// single-argument calls.

const (
	rpcParseError     = -32700
	rpcMethodNotFound = -32601
	rpcInvalidParams  = -32602
	rpcInternalError  = -32603
)

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// AddUserResult is the adduser RPC result.
type AddUserResult struct {
	User        string      `json:"user"`
	Mode        AddUserMode `json:"mode"`
	IsEmail     bool        `json:"is_email"`
	Description string      `json:"description"`
}

// DelUserResult is the deluser RPC result. Deleting an unknown user is
// not an error, Deleted just reports whether anything was removed.
type DelUserResult struct {
	User    string `json:"user"`
	Deleted bool   `json:"deleted"`
}

func (s *Server) rpc(c echo.Context) error {
	var req rpcRequest
	decoder := json.NewDecoder(c.Request().Body)
	if err := decoder.Decode(&req); err != nil {
		return c.JSON(http.StatusOK, &rpcResponse{
			JSONRPC: "2.0",
			Error: &rpcError{
				Code:    rpcParseError,
				Message: "parse error",
			},
		})
	}

	var (
		result interface{}
		rpcErr *rpcError
	)
	switch req.Method {
	case "adduser":
		result, rpcErr = s.addUser(req.Params)
	case "deluser":
		result, rpcErr = s.delUser(req.Params)
	default:
		rpcErr = &rpcError{
			Code: rpcMethodNotFound,
			Message: fmt.Sprintf("unknown method `%s`",
				req.Method),
		}
	}

	return c.JSON(http.StatusOK, &rpcResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result:  result,
		Error:   rpcErr,
	})
}

func (s *Server) addUser(raw json.RawMessage) (interface{}, *rpcError) {
	params, err := parseAddUserParams(raw)
	if err != nil {
		return nil, &rpcError{
			Code:    rpcInvalidParams,
			Message: err.Error(),
		}
	}

	mode, err := s.registry.AddUser(
		params.user, params.isEmail, params.description,
	)
	if err != nil {
		logger.Logger.Error().Err(err).Str("user", params.user).
			Msg("Could not persist user registry")
		return nil, &rpcError{
			Code:    rpcInternalError,
			Message: err.Error(),
		}
	}

	logger.Logger.Info().
		Str("user", params.user).
		Str("mode", string(mode)).
		Bool("is_email", params.isEmail).
		Msg("User registered")

	return &AddUserResult{
		User:        params.user,
		Mode:        mode,
		IsEmail:     params.isEmail,
		Description: params.description,
	}, nil
}

func (s *Server) delUser(raw json.RawMessage) (interface{}, *rpcError) {
	user, err := parseUserParam(raw)
	if err != nil {
		return nil, &rpcError{
			Code:    rpcInvalidParams,
			Message: err.Error(),
		}
	}

	deleted, err := s.registry.DelUser(user)
	if err != nil {
		logger.Logger.Error().Err(err).Str("user", user).
			Msg("Could not persist user registry")
		return nil, &rpcError{
			Code:    rpcInternalError,
			Message: err.Error(),
		}
	}

	return &DelUserResult{User: user, Deleted: deleted}, nil
}

type addUserParams struct {
	user        string
	isEmail     bool
	description string
}

// parseAddUserParams accepts "name", [name, is_email?, description?]
// or {"user":..., "is_email":..., "description":...}. Names are opaque
// strings, even when they look numeric, so a JSON number is a type
// error rather than a coercion.
func parseAddUserParams(raw json.RawMessage) (*addUserParams, error) {
	var value interface{}
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, fmt.Errorf("not a valid input type")
	}

	switch params := value.(type) {
	case string:
		return &addUserParams{user: params}, nil

	case []interface{}:
		if len(params) == 0 {
			return nil, fmt.Errorf("empty array input")
		}
		user, ok := params[0].(string)
		if !ok {
			return nil, fmt.Errorf("`user` is not a string")
		}
		parsed := &addUserParams{user: user}

		if len(params) > 1 {
			isEmail, err := parseBoolParam(params[1])
			if err != nil {
				return nil, err
			}
			parsed.isEmail = isEmail
		}
		if len(params) > 2 {
			description, ok := params[2].(string)
			if !ok {
				return nil, fmt.Errorf(
					"`description` is not a string")
			}
			parsed.description = description
		}

		return parsed, nil

	case map[string]interface{}:
		userValue, ok := params["user"]
		if !ok {
			return nil, fmt.Errorf(
				"`user` element not found in object")
		}
		user, ok := userValue.(string)
		if !ok {
			return nil, fmt.Errorf("`user` is not a string")
		}
		parsed := &addUserParams{user: user}

		if isEmailValue, ok := params["is_email"]; ok {
			isEmail, err := parseBoolParam(isEmailValue)
			if err != nil {
				return nil, err
			}
			parsed.isEmail = isEmail
		}
		if descValue, ok := params["description"]; ok {
			description, ok := descValue.(string)
			if !ok {
				return nil, fmt.Errorf(
					"`description` is not a string")
			}
			parsed.description = description
		}

		return parsed, nil

	default:
		return nil, fmt.Errorf("not a valid input type")
	}
}

// parseUserParam extracts just the user name, with the same three
// accepted shapes.
func parseUserParam(raw json.RawMessage) (string, error) {
	var value interface{}
	if err := json.Unmarshal(raw, &value); err != nil {
		return "", fmt.Errorf("not a valid input type")
	}

	switch params := value.(type) {
	case string:
		return params, nil

	case []interface{}:
		if len(params) == 0 {
			return "", fmt.Errorf("empty array input")
		}
		user, ok := params[0].(string)
		if !ok {
			return "", fmt.Errorf("`user` is not a string")
		}
		return user, nil

	case map[string]interface{}:
		userValue, ok := params["user"]
		if !ok {
			return "", fmt.Errorf(
				"`user` element not found in object")
		}
		user, ok := userValue.(string)
		if !ok {
			return "", fmt.Errorf("`user` is not a string")
		}
		return user, nil

	default:
		return "", fmt.Errorf("not a valid input type")
	}
}

// parseBoolParam tolerates both true and "true", matching the loose
// typing of CLI-originated RPC calls.
func parseBoolParam(value interface{}) (bool, error) {
	switch b := value.(type) {
	case bool:
		return b, nil
	case string:
		parsed, err := strconv.ParseBool(b)
		if err != nil {
			return false, fmt.Errorf(
				"`is_email` has invalid type")
		}
		return parsed, nil
	default:
		return false, fmt.Errorf("`is_email` has invalid type")
	}
}
