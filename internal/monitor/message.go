package monitor

import (
	"fmt"
	"net"
	"strconv"
)

func endpoint(ip string, port int) string { return net.JoinHostPort(ip, strconv.Itoa(port)) }

// AlertText is the body of a DOWN notification.
func AlertText(name, ip string, port, failures int, errText string, elapsedSec float64) string {
	return fmt.Sprintf("🔴 ALERT: %s is DOWN\nTarget: %s\nConsecutive failures: %d\nError: %s\nResponse time: %.3fs",
		name, endpoint(ip, port), failures, errText, elapsedSec)
}

// RecoveryText is the body of an UP notification.
func RecoveryText(name, ip string, port int, elapsedSec float64) string {
	return fmt.Sprintf("✅ RECOVERED: %s is UP\nTarget: %s\nResponse time: %.3fs",
		name, endpoint(ip, port), elapsedSec)
}
