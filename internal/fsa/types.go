package fsa

// PVC is a position/velocity/current triple, used both for telemetry reads
// and as the echoed feedback of closed-loop setpoints.
type PVC struct {
	Position float64 `json:"position"`
	Velocity float64 `json:"velocity"`
	Current  float64 `json:"current"`
}

// PVCC adds the d/q-frame current to PVC.
type PVCC struct {
	PVC
	CurrentID float64 `json:"current_id"`
}

// PVCCCC adds the phase B and C currents to PVCC.
type PVCCCC struct {
	PVCC
	PhaseCurrentIB float64 `json:"phase_current_ib"`
	PhaseCurrentIC float64 `json:"phase_current_ic"`
}

// PIDParam holds the control loop gains.
type PIDParam struct {
	PositionKp float64 `json:"control_position_kp"`
	VelocityKp float64 `json:"control_velocity_kp"`
	VelocityKi float64 `json:"control_velocity_ki"`
}

// pidParamImm is the wire form of PIDParam on /pid_param_imm.
type pidParamImm struct {
	PositionKp float64 `json:"control_position_kp_imm"`
	VelocityKp float64 `json:"control_velocity_kp_imm"`
	VelocityKi float64 `json:"control_velocity_ki_imm"`
}

// ControlParam holds the motion limits.
type ControlParam struct {
	MaxSpeed        float64 `json:"motor_max_speed"`
	MaxAcceleration float64 `json:"motor_max_acceleration"`
	MaxCurrent      float64 `json:"motor_max_current"`
}

// controlParamImm is the wire form of ControlParam on /control_param_imm.
type controlParamImm struct {
	MaxSpeed        float64 `json:"motor_max_speed_imm"`
	MaxAcceleration float64 `json:"motor_max_acceleration_imm"`
	MaxCurrent      float64 `json:"motor_max_current_imm"`
}

// FlagOfOperation selects which parameter sets the actuator loads from its
// own storage at boot.
type FlagOfOperation struct {
	UseStoreActuatorParam int `json:"flag_do_use_store_actuator_param"`
	UseStoreMotorParam    int `json:"flag_do_use_store_motor_param"`
	UseStoreEncoderParam  int `json:"flag_do_use_store_encoder_param"`
	UseStorePIDParam      int `json:"flag_do_use_store_pid_param"`
}

// ActuatorConfig is the actuator's stored root configuration.
type ActuatorConfig struct {
	ActuatorType           int     `json:"actuator_type"`
	ActuatorDirection      int     `json:"actuator_direction"`
	ActuatorReductionRatio float64 `json:"actuator_reduction_ratio"`

	MotorType            int     `json:"motor_type"`
	MotorHardwareType    int     `json:"motor_hardware_type"`
	MotorVBus            float64 `json:"motor_vbus"`
	MotorDirection       int     `json:"motor_direction"`
	MotorPolePairs       int     `json:"motor_pole_pairs"`
	MotorMaxSpeed        float64 `json:"motor_max_speed"`
	MotorMaxAcceleration float64 `json:"motor_max_acceleration"`
	MotorMaxCurrent      float64 `json:"motor_max_current"`

	EncoderDirection int `json:"encoder_direction"`
}

// CommConfig is the network configuration served on the comm port.
type CommConfig struct {
	Name       string `json:"name"`
	DHCPEnable bool   `json:"DHCP_enable"`
	SSID       string `json:"SSID"`
	Password   string `json:"password"`
	StaticIP   string `json:"static_IP"`
	Gateway    string `json:"gateway"`
	SubnetMask string `json:"subnet_mask"`
	DNS1       string `json:"dns_1"`
	DNS2       string `json:"dns_2"`
}

// ErrorReport is a decoded error_code reply.
type ErrorReport struct {
	Code   FaultCode
	Faults []string
}

func newErrorReport(code FaultCode) ErrorReport {
	return ErrorReport{Code: code, Faults: code.Faults()}
}
