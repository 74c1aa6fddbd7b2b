package fsa

import (
	"context"
	"fmt"
)

// OTA trigger targets on the comm port.
const (
	OTAFirmware       = "/ota"
	OTAFirmwareTest   = "/ota_test"
	OTAFirmwareDevel  = "/ota_devel"
	OTAFirmwareCloud  = "/ota_cloud"
	OTADriver         = "/ota_driver"
	OTADriverTest     = "/ota_driver_test"
	OTADriverDevel    = "/ota_driver_devel"
	OTADriverCloud    = "/ota_driver_cloud"
	targetCommEncrypt = "/encrypt"
)

var otaTargets = map[string]struct{}{
	OTAFirmware:      {},
	OTAFirmwareTest:  {},
	OTAFirmwareDevel: {},
	OTAFirmwareCloud: {},
	OTADriver:        {},
	OTADriverTest:    {},
	OTADriverDevel:   {},
	OTADriverCloud:   {},
}

// GetCommRoot returns the network module's root attributes.
func (c *Client) GetCommRoot(ctx context.Context, addr string) (map[string]any, error) {
	reply, err := c.call(ctx, addr, PortComm, Get(targetRoot))
	if err != nil {
		return nil, err
	}
	return reply.Fields()
}

// GetCommConfig reads the network configuration.
func (c *Client) GetCommConfig(ctx context.Context, addr string) (CommConfig, error) {
	var out CommConfig
	err := c.callInto(ctx, addr, PortComm, Get(targetConfig), &out)
	return out, err
}

// SetCommConfig writes the network configuration. Use SaveCommConfig to
// persist it.
func (c *Client) SetCommConfig(ctx context.Context, addr string, cfg CommConfig) error {
	return c.callOK(ctx, addr, PortComm, Set(targetConfig, map[string]any{
		"name":        cfg.Name,
		"DHCP_enable": cfg.DHCPEnable,
		"SSID":        cfg.SSID,
		"password":    cfg.Password,
		"static_IP":   cfg.StaticIP,
		"gateway":     cfg.Gateway,
		"subnet_mask": cfg.SubnetMask,
		"dns_1":       cfg.DNS1,
		"dns_2":       cfg.DNS2,
	}))
}

// SaveCommConfig persists the network configuration.
func (c *Client) SaveCommConfig(ctx context.Context, addr string) error {
	return c.callOK(ctx, addr, PortComm, Set(targetConfig, nil).WithProperty(propertySave))
}

// EraseCommConfig erases the stored network configuration.
func (c *Client) EraseCommConfig(ctx context.Context, addr string) error {
	return c.callOK(ctx, addr, PortComm, Set(targetConfig, nil).WithProperty(propertyErase))
}

// RebootComm restarts the network module.
func (c *Client) RebootComm(ctx context.Context, addr string) error {
	return c.callOK(ctx, addr, PortComm, Set(targetReboot, nil))
}

// OTA triggers a firmware update from one of the OTA* targets.
func (c *Client) OTA(ctx context.Context, addr, target string) error {
	if _, ok := otaTargets[target]; !ok {
		return fmt.Errorf("unknown OTA target %q", target)
	}
	c.log.get().Info("triggering OTA update", "address", addr, "target", target)
	return c.callOK(ctx, addr, PortComm, Set(target, nil))
}

// Encrypt installs the credentials used to lock the network module.
func (c *Client) Encrypt(ctx context.Context, addr, username, password string) error {
	return c.callOK(ctx, addr, PortComm, Set(targetCommEncrypt, map[string]any{
		"username": username,
		"password": password,
	}))
}
