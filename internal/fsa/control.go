package fsa

import (
	"context"
	"fmt"
)

// Control-port request targets.
const (
	targetRoot            = "/"
	targetControlWord     = "/control_word"
	targetState           = "/state"
	targetModeOfOperation = "/mode_of_operation"
	targetHomeOffset      = "/home_offset"
	targetHomePosition    = "/home_position"
	targetPIDParam        = "/pid_param"
	targetPIDParamImm     = "/pid_param_imm"
	targetControlParam    = "/control_param"
	targetControlParamImm = "/control_param_imm"
	targetFlagOfOperation = "/flag_of_operation"
	targetConfig          = "/config"
	targetReboot          = "/reboot"
	targetErrorCode       = "/error_code"
	targetMeasured        = "/measured"
	targetPositionControl = "/position_control"
	targetVelocityControl = "/velocity_control"
	targetCurrentControl  = "/current_control"
)

// Property selectors.
const (
	propertyClear = "clear"
	propertySave  = "save"
	propertyErase = "erase"
)

// GetRoot returns the actuator's root attributes (serial number, bus
// voltage, temperatures, firmware version) as reported.
func (c *Client) GetRoot(ctx context.Context, addr string) (map[string]any, error) {
	reply, err := c.call(ctx, addr, PortControl, Get(targetRoot))
	if err != nil {
		return nil, err
	}
	return reply.Fields()
}

func (c *Client) setControlWord(ctx context.Context, addr string, word ControlWord) error {
	return c.callOK(ctx, addr, PortControl, Set(targetControlWord, map[string]any{
		"control_word": int(word),
	}))
}

// SetEnable switches the actuator's servo on.
func (c *Client) SetEnable(ctx context.Context, addr string) error {
	return c.setControlWord(ctx, addr, ControlWordServoOn)
}

// SetDisable switches the actuator's servo off.
func (c *Client) SetDisable(ctx context.Context, addr string) error {
	return c.setControlWord(ctx, addr, ControlWordServoOff)
}

// SetCalibrateEncoder starts encoder calibration.
func (c *Client) SetCalibrateEncoder(ctx context.Context, addr string) error {
	return c.setControlWord(ctx, addr, ControlWordCalibrateEncoder)
}

// ClearFault clears latched faults.
func (c *Client) ClearFault(ctx context.Context, addr string) error {
	return c.setControlWord(ctx, addr, ControlWordClearFault)
}

// GetState returns the actuator's state machine value.
func (c *Client) GetState(ctx context.Context, addr string) (int, error) {
	var out struct {
		State int `json:"state"`
	}
	if err := c.callInto(ctx, addr, PortControl, Get(targetState), &out); err != nil {
		return 0, err
	}
	return out.State, nil
}

// SetModeOfOperation selects the active control law.
func (c *Client) SetModeOfOperation(ctx context.Context, addr string, mode Mode) error {
	err := c.callOK(ctx, addr, PortControl, Set(targetModeOfOperation, map[string]any{
		"mode_of_operation": int(mode),
	}))
	if err == nil {
		if ep := c.registry.lookup(addr); ep != nil {
			ep.setCommandMode(mode)
		}
	}
	return err
}

// GetHomeOffset returns the stored home offset.
func (c *Client) GetHomeOffset(ctx context.Context, addr string) (float64, error) {
	var out struct {
		HomeOffset float64 `json:"home_offset"`
	}
	if err := c.callInto(ctx, addr, PortControl, Get(targetHomeOffset), &out); err != nil {
		return 0, err
	}
	return out.HomeOffset, nil
}

// SetHomeOffset writes the home offset.
func (c *Client) SetHomeOffset(ctx context.Context, addr string, offset float64) error {
	return c.callOK(ctx, addr, PortControl, Set(targetHomeOffset, map[string]any{
		"home_offset": offset,
	}))
}

// SetHomePosition latches the current position as home.
func (c *Client) SetHomePosition(ctx context.Context, addr string) error {
	return c.callOK(ctx, addr, PortControl, Set(targetHomePosition, nil))
}

// GetPIDParam reads the stored control loop gains.
func (c *Client) GetPIDParam(ctx context.Context, addr string) (PIDParam, error) {
	var out PIDParam
	err := c.callInto(ctx, addr, PortControl, Get(targetPIDParam), &out)
	return out, err
}

// SetPIDParam writes the stored control loop gains.
func (c *Client) SetPIDParam(ctx context.Context, addr string, p PIDParam) error {
	return c.callOK(ctx, addr, PortControl, Set(targetPIDParam, map[string]any{
		"control_position_kp": p.PositionKp,
		"control_velocity_kp": p.VelocityKp,
		"control_velocity_ki": p.VelocityKi,
	}))
}

// ClearPIDParam restores the factory gains.
func (c *Client) ClearPIDParam(ctx context.Context, addr string) error {
	return c.callOK(ctx, addr, PortControl, Set(targetPIDParam, nil).WithProperty(propertyClear))
}

// GetPIDParamImm reads the gains currently in effect.
func (c *Client) GetPIDParamImm(ctx context.Context, addr string) (PIDParam, error) {
	var out pidParamImm
	if err := c.callInto(ctx, addr, PortControl, Get(targetPIDParamImm), &out); err != nil {
		return PIDParam{}, err
	}
	return PIDParam(out), nil
}

// SetPIDParamImm changes the gains in effect without storing them.
func (c *Client) SetPIDParamImm(ctx context.Context, addr string, p PIDParam) error {
	return c.callOK(ctx, addr, PortControl, Set(targetPIDParamImm, map[string]any{
		"control_position_kp_imm": p.PositionKp,
		"control_velocity_kp_imm": p.VelocityKp,
		"control_velocity_ki_imm": p.VelocityKi,
	}))
}

// GetControlParam reads the stored motion limits.
func (c *Client) GetControlParam(ctx context.Context, addr string) (ControlParam, error) {
	var out ControlParam
	err := c.callInto(ctx, addr, PortControl, Get(targetControlParam), &out)
	return out, err
}

// SetControlParam writes the stored motion limits.
func (c *Client) SetControlParam(ctx context.Context, addr string, p ControlParam) error {
	return c.callOK(ctx, addr, PortControl, Set(targetControlParam, map[string]any{
		"motor_max_speed":        p.MaxSpeed,
		"motor_max_acceleration": p.MaxAcceleration,
		"motor_max_current":      p.MaxCurrent,
	}))
}

// GetControlParamImm reads the motion limits currently in effect.
func (c *Client) GetControlParamImm(ctx context.Context, addr string) (ControlParam, error) {
	var out controlParamImm
	if err := c.callInto(ctx, addr, PortControl, Get(targetControlParamImm), &out); err != nil {
		return ControlParam{}, err
	}
	return ControlParam(out), nil
}

// SetControlParamImm changes the motion limits in effect without storing them.
func (c *Client) SetControlParamImm(ctx context.Context, addr string, p ControlParam) error {
	return c.callOK(ctx, addr, PortControl, Set(targetControlParamImm, map[string]any{
		"motor_max_speed_imm":        p.MaxSpeed,
		"motor_max_acceleration_imm": p.MaxAcceleration,
		"motor_max_current_imm":      p.MaxCurrent,
	}))
}

// GetFlagOfOperation reads the boot-time parameter source flags.
func (c *Client) GetFlagOfOperation(ctx context.Context, addr string) (FlagOfOperation, error) {
	var out FlagOfOperation
	err := c.callInto(ctx, addr, PortControl, Get(targetFlagOfOperation), &out)
	return out, err
}

// SetFlagOfOperation writes the boot-time parameter source flags.
func (c *Client) SetFlagOfOperation(ctx context.Context, addr string, f FlagOfOperation) error {
	return c.callOK(ctx, addr, PortControl, Set(targetFlagOfOperation, map[string]any{
		"flag_do_use_store_actuator_param": f.UseStoreActuatorParam,
		"flag_do_use_store_motor_param":    f.UseStoreMotorParam,
		"flag_do_use_store_encoder_param":  f.UseStoreEncoderParam,
		"flag_do_use_store_pid_param":      f.UseStorePIDParam,
	}))
}

// ClearFlagOfOperation resets the boot-time parameter source flags.
func (c *Client) ClearFlagOfOperation(ctx context.Context, addr string) error {
	return c.callOK(ctx, addr, PortControl, Set(targetFlagOfOperation, nil).WithProperty(propertyClear))
}

// GetConfig reads the actuator's root configuration.
func (c *Client) GetConfig(ctx context.Context, addr string) (ActuatorConfig, error) {
	var out ActuatorConfig
	err := c.callInto(ctx, addr, PortControl, Get(targetConfig), &out)
	return out, err
}

// SetConfig writes the actuator's root configuration. Use SaveConfig to
// persist it across reboots.
func (c *Client) SetConfig(ctx context.Context, addr string, cfg ActuatorConfig) error {
	return c.callOK(ctx, addr, PortControl, Set(targetConfig, map[string]any{
		"actuator_type":            cfg.ActuatorType,
		"actuator_direction":       cfg.ActuatorDirection,
		"actuator_reduction_ratio": cfg.ActuatorReductionRatio,
		"motor_type":               cfg.MotorType,
		"motor_hardware_type":      cfg.MotorHardwareType,
		"motor_vbus":               cfg.MotorVBus,
		"motor_direction":          cfg.MotorDirection,
		"motor_pole_pairs":         cfg.MotorPolePairs,
		"motor_max_speed":          cfg.MotorMaxSpeed,
		"motor_max_acceleration":   cfg.MotorMaxAcceleration,
		"motor_max_current":        cfg.MotorMaxCurrent,
		"encoder_direction":        cfg.EncoderDirection,
	}))
}

// SaveConfig persists the root configuration on the actuator.
func (c *Client) SaveConfig(ctx context.Context, addr string) error {
	return c.callOK(ctx, addr, PortControl, Set(targetConfig, nil).WithProperty(propertySave))
}

// EraseConfig erases the stored root configuration.
func (c *Client) EraseConfig(ctx context.Context, addr string) error {
	return c.callOK(ctx, addr, PortControl, Set(targetConfig, nil).WithProperty(propertyErase))
}

// Reboot restarts the actuator's drive.
func (c *Client) Reboot(ctx context.Context, addr string) error {
	return c.callOK(ctx, addr, PortControl, Set(targetReboot, nil))
}

// GetErrorCode reads the fault bitmask. Every set bit is logged by fault name.
func (c *Client) GetErrorCode(ctx context.Context, addr string) (ErrorReport, error) {
	var out struct {
		ErrorCode int64 `json:"error_code"`
	}
	if err := c.callInto(ctx, addr, PortControl, Get(targetErrorCode), &out); err != nil {
		return ErrorReport{}, err
	}
	code, err := faultCodeOf(out.ErrorCode)
	if err != nil {
		return ErrorReport{}, fmt.Errorf("%s %s: %w", addr, targetErrorCode, err)
	}
	report := newErrorReport(code)
	c.logFaults(addr, report)
	return report, nil
}

func (c *Client) logFaults(addr string, report ErrorReport) {
	logger := c.log.get()
	for _, name := range report.Faults {
		logger.Warn("actuator fault active", "address", addr, "fault", name, "error_code", uint32(report.Code))
	}
}

// GetPVC reads position, velocity and current.
func (c *Client) GetPVC(ctx context.Context, addr string) (PVC, error) {
	var out PVC
	err := c.callInto(ctx, addr, PortControl, Measure("position", "velocity", "current"), &out)
	return out, err
}

// GetPVCC reads position, velocity, current and the d/q current.
func (c *Client) GetPVCC(ctx context.Context, addr string) (PVCC, error) {
	var out PVCC
	err := c.callInto(ctx, addr, PortControl, Measure("position", "velocity", "current", "current_id"), &out)
	return out, err
}

// GetPVCCCC reads GetPVCC plus the phase B and C currents.
func (c *Client) GetPVCCCC(ctx context.Context, addr string) (PVCCCC, error) {
	var out PVCCCC
	err := c.callInto(ctx, addr, PortControl,
		Measure("position", "velocity", "current", "current_id", "phase_current_ib", "phase_current_ic"), &out)
	return out, err
}

// GetAbsEncoderAngle reads the angle of an absolute encoder device.
func (c *Client) GetAbsEncoderAngle(ctx context.Context, addr string) (float64, error) {
	var out struct {
		Angle float64 `json:"angle"`
	}
	if err := c.callInto(ctx, addr, PortControl, Get(targetMeasured), &out); err != nil {
		return 0, err
	}
	return out.Angle, nil
}

// Telemetry reads position, velocity and current using the protocol the
// endpoint is configured for: the binary 0x1A query when its fast flag is
// set, the JSON /measured request otherwise.
func (c *Client) Telemetry(ctx context.Context, addr string) (PVC, error) {
	ep, err := c.registry.Get(addr)
	if err != nil {
		return PVC{}, err
	}
	if ep.Fast() {
		return c.FastGetPVC(ctx, addr)
	}
	return c.GetPVC(ctx, addr)
}

// SetPositionControl commands a position with velocity and current
// feed-forward terms and returns the echoed feedback.
func (c *Client) SetPositionControl(ctx context.Context, addr string, position, velocityFF, currentFF float64) (PVC, error) {
	return c.setpoint(ctx, addr, targetPositionControl, map[string]any{
		"position":    position,
		"velocity_ff": velocityFF,
		"current_ff":  currentFF,
	})
}

// SetVelocityControl commands a velocity with a current feed-forward term.
func (c *Client) SetVelocityControl(ctx context.Context, addr string, velocity, currentFF float64) (PVC, error) {
	return c.setpoint(ctx, addr, targetVelocityControl, map[string]any{
		"velocity":   velocity,
		"current_ff": currentFF,
	})
}

// SetTorqueControl commands a torque. The firmware takes torque setpoints
// on its current loop, so the request goes to /current_control.
func (c *Client) SetTorqueControl(ctx context.Context, addr string, torque float64) (PVC, error) {
	return c.setpoint(ctx, addr, targetCurrentControl, map[string]any{
		"current": torque,
	})
}

// SetCurrentControl commands a current.
func (c *Client) SetCurrentControl(ctx context.Context, addr string, current float64) (PVC, error) {
	return c.setpoint(ctx, addr, targetCurrentControl, map[string]any{
		"current": current,
	})
}

// setpoint sends a closed-loop command. A registered endpoint whose blocking
// flag is cleared gets reply_enable=false and the call returns its cached
// feedback immediately.
func (c *Client) setpoint(ctx context.Context, addr, target string, fields map[string]any) (PVC, error) {
	if ep := c.registry.lookup(addr); ep != nil && !ep.Blocking() {
		payload, err := Control(target, false, fields).Encode()
		if err != nil {
			return PVC{}, err
		}
		if err := c.post(addr, PortControl, payload); err != nil {
			return PVC{}, fmt.Errorf("%s: %w", target, err)
		}
		m := ep.Measured()
		return PVC{Position: m.Position, Velocity: m.Velocity, Current: m.Current}, nil
	}

	var out PVC
	err := c.callInto(ctx, addr, PortControl, Control(target, true, fields), &out)
	return out, err
}
