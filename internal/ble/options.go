package ble

import (
	"github.com/chaz8081/santa-link/internal/ble/protocol"
	"github.com/chaz8081/santa-link/internal/config"
)

// OptionsFromConfig maps the ble section of the config file onto Options.
func OptionsFromConfig(c config.BLEConfig) Options {
	return Options{
		DeviceName:           c.DeviceName,
		ServiceUUID:          c.ServiceUUID,
		CharacteristicUUID:   c.CharacteristicUUID,
		MaxWriteBytes:        c.MaxWriteBytes,
		OutboundChunking:     c.OutboundChunking,
		ConnectTimeout:       c.ConnectTimeout,
		HealthInterval:       c.HealthInterval,
		ToolsRequestDelay:    c.ToolsRequestDelay,
		AutoReconnectWindow:  c.AutoReconnectWindow,
		ReconnectPromptDelay: c.ReconnectPromptDelay,
		NotifyBuffer:         c.NotifyBuffer,
		WriteRate:            c.WriteRate,
		WriteBurst:           c.WriteBurst,
		BreakerFailures:      c.BreakerFailures,
		Reassembly: protocol.ReassemblerOptions{
			MaxPending: c.ReassemblyMaxPending,
			TTL:        c.ReassemblyTTL,
		},
	}
}
