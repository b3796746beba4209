package engine

import "time"

// Config holds the engine's gameplay and timing parameters.
type Config struct {
	UserName string

	DecreeCount  int
	DecreeReward int

	DecayInterval time.Duration
	DecayStep     int

	SpawnMinDelay   time.Duration
	SpawnMaxDelay   time.Duration
	SpawnHideMin    time.Duration
	SpawnHideMax    time.Duration
	SpawnMagnitudes []int

	RivalThreshold time.Duration
	RivalMin       int
	RivalMax       int

	ExamCooldown  time.Duration
	ExamQuestions int
	ExamReward    int

	TournamentWindow time.Duration
	TournamentCheck  time.Duration

	MatchBaseFee   int
	MatchFeeStep   int
	MatchRewardMin int

	ChatHistory int
}

// DefaultConfig returns the values the browser client shipped with.
func DefaultConfig() Config {
	return Config{
		UserName:         "Wizard",
		DecreeCount:      5,
		DecreeReward:     10,
		DecayInterval:    10 * time.Minute,
		DecayStep:        5,
		SpawnMinDelay:    30 * time.Second,
		SpawnMaxDelay:    60 * time.Second,
		SpawnHideMin:     10 * time.Second,
		SpawnHideMax:     15 * time.Second,
		SpawnMagnitudes:  []int{1, 2, 5},
		RivalThreshold:   4 * time.Hour,
		RivalMin:         1,
		RivalMax:         10,
		ExamCooldown:     time.Hour,
		ExamQuestions:    5,
		ExamReward:       10,
		TournamentWindow: 24 * time.Hour,
		TournamentCheck:  time.Minute,
		MatchBaseFee:     5,
		MatchFeeStep:     10,
		MatchRewardMin:   5,
		ChatHistory:      20,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.UserName == "" {
		c.UserName = d.UserName
	}
	if c.DecreeCount <= 0 {
		c.DecreeCount = d.DecreeCount
	}
	if c.DecreeReward <= 0 {
		c.DecreeReward = d.DecreeReward
	}
	if c.DecayInterval <= 0 {
		c.DecayInterval = d.DecayInterval
	}
	if c.DecayStep <= 0 {
		c.DecayStep = d.DecayStep
	}
	if c.SpawnMinDelay <= 0 {
		c.SpawnMinDelay = d.SpawnMinDelay
	}
	if c.SpawnMaxDelay < c.SpawnMinDelay {
		c.SpawnMaxDelay = c.SpawnMinDelay
	}
	if c.SpawnHideMin <= 0 {
		c.SpawnHideMin = d.SpawnHideMin
	}
	if c.SpawnHideMax < c.SpawnHideMin {
		c.SpawnHideMax = c.SpawnHideMin
	}
	if len(c.SpawnMagnitudes) == 0 {
		c.SpawnMagnitudes = d.SpawnMagnitudes
	}
	if c.RivalThreshold <= 0 {
		c.RivalThreshold = d.RivalThreshold
	}
	if c.RivalMin <= 0 {
		c.RivalMin = d.RivalMin
	}
	if c.RivalMax < c.RivalMin {
		c.RivalMax = c.RivalMin
	}
	if c.ExamCooldown <= 0 {
		c.ExamCooldown = d.ExamCooldown
	}
	if c.ExamQuestions <= 0 {
		c.ExamQuestions = d.ExamQuestions
	}
	if c.ExamReward <= 0 {
		c.ExamReward = d.ExamReward
	}
	if c.TournamentWindow <= 0 {
		c.TournamentWindow = d.TournamentWindow
	}
	if c.TournamentCheck <= 0 {
		c.TournamentCheck = d.TournamentCheck
	}
	if c.MatchBaseFee <= 0 {
		c.MatchBaseFee = d.MatchBaseFee
	}
	if c.MatchFeeStep <= 0 {
		c.MatchFeeStep = d.MatchFeeStep
	}
	if c.MatchRewardMin <= 0 {
		c.MatchRewardMin = d.MatchRewardMin
	}
	if c.ChatHistory <= 0 {
		c.ChatHistory = d.ChatHistory
	}
	return c
}
