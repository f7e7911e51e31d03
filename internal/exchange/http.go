package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/skalibog/fgiagent/internal/execution"
)

const maxErrorBody = 4096

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

// doJSON выполняет запрос и разбирает JSON-ответ. Неуспешный код возвращается как *execution.HTTPError.
func doJSON(ctx context.Context, client *http.Client, op, method, url string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: ошибка кодирования запроса: %w", op, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("%s: ошибка создания запроса: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &execution.HTTPError{Op: op, StatusCode: resp.StatusCode, Body: string(b)}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: ошибка разбора ответа: %w", op, err)
	}
	return nil
}

// rpcRequest запрос JSON-RPC 2.0
type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// callRPC вызывает метод JSON-RPC. Ошибка в теле ответа отдается как HTTP 400 с текстом сообщения,
// чтобы классификация повторов работала одинаково для транспорта и протокола.
func callRPC(ctx context.Context, client *http.Client, url, method string, params []any, out any) error {
	var resp rpcResponse
	req := rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params}
	if err := doJSON(ctx, client, method, http.MethodPost, url, req, &resp); err != nil {
		return err
	}
	if resp.Error != nil {
		return &execution.HTTPError{
			Op:         method,
			StatusCode: http.StatusBadRequest,
			Body:       fmt.Sprintf("%d: %s", resp.Error.Code, resp.Error.Message),
		}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return fmt.Errorf("%s: ошибка разбора результата: %w", method, err)
	}
	return nil
}
