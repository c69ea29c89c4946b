package risk

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Policy профиль риск-лимитов для gate
type Policy struct {
	ProfileName      string  `yaml:"profile_name"`
	MinConfidence    float64 `yaml:"min_confidence"`
	MaxLeverage      int     `yaml:"max_leverage"`
	MaxOpenPositions int     `yaml:"max_open_positions"`
	MaxDailyLossUSD  float64 `yaml:"max_daily_loss_usd"`
	AllowedSenders   []int64 `yaml:"allowed_senders"`
}

// LoadPolicy загружает профиль из YAML. Имя профиля берется из
// POLICY_PROFILE, по умолчанию moderate.
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var config struct {
		RiskProfiles map[string]Policy `yaml:"risk_profiles"`
	}

	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, err
	}

	profileName := os.Getenv("POLICY_PROFILE")
	if profileName == "" {
		profileName = "moderate"
	}

	policy, ok := config.RiskProfiles[profileName]
	if !ok {
		return nil, fmt.Errorf("policy profile %s not found", profileName)
	}

	policy.ProfileName = profileName
	return &policy, nil
}

// senderAllowed проверяет identity отправителя по allow-list.
// Пустой список означает, что фильтрация выключена.
func (p *Policy) senderAllowed(senderID int64) bool {
	if len(p.AllowedSenders) == 0 {
		return true
	}
	for _, id := range p.AllowedSenders {
		if id == senderID {
			return true
		}
	}
	return false
}
