package engine

import "fmt"

// NumChannels is the fixed console width.
const NumChannels = 16

// Parameter name constants for the global synth section. Per-channel
// parameters are addressed as "ch<N>.<name>" (for example "ch0.pan")
// and the master strip as "master.<name>".
const (
	ParamOsc1Waveform    = "osc1_waveform"
	ParamOsc1Level       = "osc1_level"
	ParamFilterCutoff    = "filter_cutoff"
	ParamFilterResonance = "filter_resonance"
	ParamFilterEnvAmount = "filter_env_amount"
	ParamAmpAttack       = "amp_env_attack"
	ParamAmpDecay        = "amp_env_decay"
	ParamAmpSustain      = "amp_env_sustain"
	ParamAmpRelease      = "amp_env_release"
	ParamFilterAttack    = "filter_env_attack"
	ParamFilterDecay     = "filter_env_decay"
	ParamFilterSustain   = "filter_env_sustain"
	ParamFilterRelease   = "filter_env_release"
	ParamLFO1Rate        = "lfo1_rate"
	ParamLFO2Rate        = "lfo2_rate"
	ParamGlideTime       = "glide_time"
	ParamLegato          = "legato"
	ParamUnisonDetune    = "unison_detune"
	ParamFormantEnable   = "formant_enable"
	ParamFormantFreq     = "formant_freq"
	ParamFormantBW       = "formant_bw"
	ParamPitchBendRange  = "pitch_bend_range"
	ParamVelocitySens    = "velocity_sensitivity"
	ParamMasterVolume    = "master_volume"
)

// Channel-strip parameter suffixes.
const (
	StripTrimDB         = "trim_db"
	StripDrive          = "drive"
	StripSatMode        = "sat_mode"
	StripEQLowGainDB    = "eq_low_gain_db"
	StripEQMidGainDB    = "eq_mid_gain_db"
	StripEQMidFreq      = "eq_mid_freq"
	StripEQHighGainDB   = "eq_high_gain_db"
	StripCompThreshold  = "comp_threshold_db"
	StripCompRatio      = "comp_ratio"
	StripCompAttackMs   = "comp_attack_ms"
	StripCompReleaseMs  = "comp_release_ms"
	StripLimiterCeiling = "limiter_ceiling_db"
	StripPan            = "pan"
	StripOutputDB       = "output_db"
	StripMute           = "mute"
	StripSolo           = "solo"
)

// ChannelParam builds the full name of a channel-strip parameter.
func ChannelParam(channel int, suffix string) string {
	return fmt.Sprintf("ch%d.%s", channel, suffix)
}

// MasterParam builds the full name of a master-strip parameter.
func MasterParam(suffix string) string {
	return "master." + suffix
}

// macroParamName returns the name of macro slot i in [0, 7].
func macroParamName(i int) string {
	return fmt.Sprintf("macro%d", i+1)
}

func buildParamDefs() []paramDef {
	defs := []paramDef{
		{ParamOsc1Waveform, 0, 3, 0, true},
		{ParamOsc1Level, 0, 1, 0.8, false},
		{ParamFilterCutoff, 0, 1, 1, false},
		{ParamFilterResonance, 0.1, 10, 0.707, false},
		{ParamFilterEnvAmount, -1, 1, 0, false},
		{ParamAmpAttack, 0.001, 30, 0.01, false},
		{ParamAmpDecay, 0.001, 30, 0.1, false},
		{ParamAmpSustain, 0, 1, 0.8, false},
		{ParamAmpRelease, 0.001, 30, 0.2, false},
		{ParamFilterAttack, 0.001, 30, 0.01, false},
		{ParamFilterDecay, 0.001, 30, 0.1, false},
		{ParamFilterSustain, 0, 1, 1, false},
		{ParamFilterRelease, 0.001, 30, 0.2, false},
		{ParamLFO1Rate, 0.01, 20, 1, false},
		{ParamLFO2Rate, 0.01, 20, 0.25, false},
		{ParamGlideTime, 0, 2, 0, false},
		{ParamLegato, 0, 1, 0, true},
		{ParamUnisonDetune, 0, 0.05, 0, false},
		{ParamFormantEnable, 0, 1, 0, true},
		{ParamFormantFreq, 20, 8000, 800, false},
		{ParamFormantBW, 10, 2000, 100, false},
		{ParamPitchBendRange, 0, 12, 2, false},
		{ParamVelocitySens, 0, 1, 0, false},
		{ParamMasterVolume, 0, 2, 1, false},
	}

	for i := 0; i < numMacros; i++ {
		defs = append(defs, paramDef{macroParamName(i), 0, 1, 0, false})
	}

	for ch := 0; ch < NumChannels; ch++ {
		defs = append(defs, stripDefs(fmt.Sprintf("ch%d.", ch))...)
	}
	defs = append(defs, stripDefs("master.")...)

	return defs
}

func stripDefs(prefix string) []paramDef {
	return []paramDef{
		{prefix + StripTrimDB, -24, 24, 0, false},
		{prefix + StripDrive, 0, 1, 0, false},
		{prefix + StripSatMode, 0, 2, 0, true},
		{prefix + StripEQLowGainDB, -15, 15, 0, false},
		{prefix + StripEQMidGainDB, -15, 15, 0, false},
		{prefix + StripEQMidFreq, 200, 8000, 1000, false},
		{prefix + StripEQHighGainDB, -15, 15, 0, false},
		{prefix + StripCompThreshold, -60, 0, -20, false},
		{prefix + StripCompRatio, 1, 100, 1, false},
		{prefix + StripCompAttackMs, 0.1, 1000, 10, false},
		{prefix + StripCompReleaseMs, 1, 5000, 100, false},
		{prefix + StripLimiterCeiling, -24, 0, -0.1, false},
		{prefix + StripPan, -1, 1, 0, false},
		{prefix + StripOutputDB, -96, 12, 0, false},
		{prefix + StripMute, 0, 1, 0, true},
		{prefix + StripSolo, 0, 1, 0, true},
	}
}

// numMacros is the number of macro modulation slots.
const numMacros = 8
