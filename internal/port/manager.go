// Package port resolves the HTTP listen address for the orchestrator's API
// server. cmd/orchestrator needs exactly one thing from it: a port to bind
// to, fixed when PORT is set or the process looks like it's running inside
// a container/cluster, auto-discovered from a range on a bare developer
// machine.
package port

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/agilecore/orchestrator-core/internal/telemetry"
)

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// deployed reports whether the process looks like it's running inside a
// container or cluster rather than on a developer's machine — the signal
// that decides fixed-port vs. auto-discovery below.
func deployed() bool {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" || os.Getenv("KUBERNETES_PORT") != "" {
		return true
	}
	if os.Getenv("COMPOSE_PROJECT_NAME") != "" {
		return true
	}
	return os.Getenv("ENVIRONMENT") == "production"
}

// Strategy describes how the listen port was chosen, for startup logging.
type Strategy struct {
	Port         int
	AutoDiscover bool
	Source       string
}

// Manager resolves the orchestrator API server's bind address.
type Manager struct {
	host         string
	portRange    string
	autoDiscover bool
	fixedPort    int // 0 means "not explicitly set"
	deployed     bool
	logger       telemetry.Logger
}

// NewManager reads HOST/PORT/PORT_RANGE/AUTO_DISCOVER from the environment.
func NewManager(logger telemetry.Logger) *Manager {
	m := &Manager{
		host:         getEnvOrDefault("HOST", "0.0.0.0"),
		portRange:    getEnvOrDefault("PORT_RANGE", "8080-8090"),
		autoDiscover: getEnvBoolOrDefault("AUTO_DISCOVER", true),
		deployed:     deployed(),
		logger:       logger.WithComponent("port"),
	}

	if portEnv := os.Getenv("PORT"); portEnv != "" && portEnv != "auto" {
		if p, err := strconv.Atoi(portEnv); err == nil {
			m.fixedPort = p
			m.autoDiscover = false
		}
	}
	return m
}

// Strategy determines the appropriate port strategy for the current
// environment.
func (m *Manager) Strategy() Strategy {
	if m.fixedPort > 0 {
		return Strategy{Port: m.fixedPort, AutoDiscover: false, Source: "explicit-port"}
	}
	if m.deployed {
		return Strategy{Port: 8080, AutoDiscover: false, Source: "deployed-fixed"}
	}
	if !m.autoDiscover {
		return Strategy{Port: 8080, AutoDiscover: false, Source: "default-port"}
	}
	return Strategy{Port: m.findAvailablePortInRange(m.portRange), AutoDiscover: true, Source: "auto-discovery"}
}

// DeterminePort returns the port the HTTP server should bind to.
func (m *Manager) DeterminePort() int {
	strategy := m.Strategy()
	m.logger.Info("port strategy determined", map[string]interface{}{
		"port": strategy.Port, "auto_discover": strategy.AutoDiscover,
		"source": strategy.Source, "host": m.host,
	})
	return strategy.Port
}

// GetServerAddress returns the address to pass to http.Server.Addr.
func (m *Manager) GetServerAddress(port int) string {
	return fmt.Sprintf("%s:%d", m.host, port)
}

func (m *Manager) findAvailablePortInRange(portRange string) int {
	start, end := parsePortRange(portRange)
	for port := start; port <= end; port++ {
		if m.isPortAvailable(port) {
			return port
		}
	}
	m.logger.Warn("no ports available in range, finding any available port", map[string]interface{}{"range": portRange})
	return m.findAnyAvailablePort()
}

func parsePortRange(portRange string) (int, int) {
	parts := strings.Split(portRange, "-")
	if len(parts) != 2 {
		return 8080, 8090
	}
	start, err1 := strconv.Atoi(strings.TrimSpace(parts[0]))
	end, err2 := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err1 != nil || err2 != nil || start > end {
		return 8080, 8090
	}
	return start, end
}

func (m *Manager) isPortAvailable(port int) bool {
	address := fmt.Sprintf("%s:%d", m.host, port)
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return false
	}
	defer listener.Close()
	return true
}

func (m *Manager) findAnyAvailablePort() int {
	commonPorts := []int{8080, 8081, 8082, 8083, 8084, 8085, 8090, 8091, 8092, 8093, 8094, 8095}
	for _, port := range commonPorts {
		if m.isPortAvailable(port) {
			return port
		}
	}
	listener, err := net.Listen("tcp", fmt.Sprintf("%s:0", m.host))
	if err != nil {
		m.logger.Error("failed to find any available port", map[string]interface{}{"error": err.Error()})
		return 8080
	}
	defer listener.Close()
	return listener.Addr().(*net.TCPAddr).Port
}
