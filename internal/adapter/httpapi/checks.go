package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// CheckFunc は依存先の状態を (正常か, 説明) で返す
type CheckFunc func(ctx context.Context) (bool, string)

// Check は名前付きのレディネスチェック
type Check struct {
	Name string
	Fn   CheckFunc
}

// Pinger は接続確認ができる依存先（DB、Redis など）
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck はPingが成功すれば正常とみなす
func PingCheck(p Pinger) CheckFunc {
	return func(ctx context.Context) (bool, string) {
		if err := p.Ping(ctx); err != nil {
			return false, fmt.Sprintf("ping failed: %v", err)
		}
		return true, "ok"
	}
}

// ReadyCheck は ready() が true になるまで notReady を返す
func ReadyCheck(ready func() bool, notReady string) CheckFunc {
	return func(context.Context) (bool, string) {
		if !ready() {
			return false, notReady
		}
		return true, "ok"
	}
}

// OllamaCheck はOllamaサーバーに到達できるかを確認する
func OllamaCheck(baseURL string, timeout time.Duration) CheckFunc {
	client := &http.Client{Timeout: timeout}
	url := strings.TrimSuffix(baseURL, "/") + "/api/version"

	return func(ctx context.Context) (bool, string) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return false, fmt.Sprintf("bad url: %v", err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return false, fmt.Sprintf("unreachable: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return false, fmt.Sprintf("status %d", resp.StatusCode)
		}
		return true, "ok"
	}
}
