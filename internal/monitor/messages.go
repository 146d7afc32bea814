package monitor

import "fmt"

func OfflineMessage(o Observation) string {
	return fmt.Sprintf("🔴 Device '%s' has not been seen for %d minute(s). Last seen: %s UTC.",
		o.Device.Name, o.Minutes(), o.LastSeenText())
}

func OnlineMessage(o Observation) string {
	return fmt.Sprintf("🟢 Device '%s' is back online! Last seen: %s UTC.", o.Device.Name, o.LastSeenText())
}

func AuthAlert(status int) string {
	return fmt.Sprintf("❌ Authentication error with Tailscale API (HTTP %d). Please re-run `!setup` to update your API key.", status)
}

const UnavailableAlert = "⚠️ Error fetching Tailscale devices data. Will continue monitoring."
