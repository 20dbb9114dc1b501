// Package httpclient 管理按代理配置区分的 HTTP 客户端
package httpclient

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	xproxy "golang.org/x/net/proxy"
)

// Manager HTTP 客户端管理器。
// 不同代理配置不能共享客户端，这里按代理串缓存，避免每次探测都新建 Transport。
type Manager struct {
	mu      sync.RWMutex
	clients map[string]*http.Client // key: 代理串（空串表示直连）
}

var (
	defaultManager *Manager
	once           sync.Once
)

// GetManager 获取全局管理器单例
func GetManager() *Manager {
	once.Do(func() {
		defaultManager = &Manager{
			clients: make(map[string]*http.Client),
		}
	})
	return defaultManager
}

// GetClient 获取指定代理配置的客户端。proxyURL 为空时直连。
// 超时由调用方通过 context 控制，客户端本身不设置 Timeout。
func (m *Manager) GetClient(proxyURL string) (*http.Client, error) {
	m.mu.RLock()
	if client, ok := m.clients[proxyURL]; ok {
		m.mu.RUnlock()
		return client, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if client, ok := m.clients[proxyURL]; ok {
		return client, nil
	}

	transport, err := buildTransport(proxyURL)
	if err != nil {
		return nil, err
	}

	client := &http.Client{Transport: transport}
	m.clients[proxyURL] = client
	return client, nil
}

// buildTransport 根据代理串构建 Transport，支持 http/https/socks5
func buildTransport(proxyURL string) (*http.Transport, error) {
	transport := &http.Transport{
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	if proxyURL == "" {
		return transport, nil
	}

	parsed, err := url.Parse(proxyURL)
	if err != nil {
		return nil, fmt.Errorf("代理地址无效: %w", err)
	}

	switch parsed.Scheme {
	case "http", "https":
		transport.Proxy = http.ProxyURL(parsed)
	case "socks5":
		var auth *xproxy.Auth
		if parsed.User != nil {
			password, _ := parsed.User.Password()
			auth = &xproxy.Auth{
				User:     parsed.User.Username(),
				Password: password,
			}
		}
		dialer, err := xproxy.SOCKS5("tcp", parsed.Host, auth, xproxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("创建 socks5 代理失败: %w", err)
		}
		if cd, ok := dialer.(xproxy.ContextDialer); ok {
			transport.DialContext = cd.DialContext
		} else {
			transport.Dial = dialer.Dial
		}
	default:
		return nil, fmt.Errorf("不支持的代理协议: %s", parsed.Scheme)
	}

	return transport, nil
}
