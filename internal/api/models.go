package api

import (
	"time"

	"github.com/p-blackswan/grimoire/internal/content"
	"github.com/p-blackswan/grimoire/internal/engine"
)

// --- Requests ---

type journalRequest struct {
	Content string `json:"content"`
	Mood    string `json:"mood"`
}

type taskRequest struct {
	Text string `json:"text"`
}

type moodRequest struct {
	Potion string `json:"potion"`
}

type adoptRequest struct {
	ID string `json:"id"`
}

type feedRequest struct {
	Food string `json:"food"`
}

type chatRequest struct {
	Message string `json:"message"`
}

type submitExamRequest struct {
	Answers []string `json:"answers"`
}

type playMatchRequest struct {
	Score *int `json:"score"`
}

type sortingRequest struct {
	Answers []string `json:"answers"`
}

type owlRequest struct {
	Question string `json:"question"`
}

type visibilityRequest struct {
	Visible *bool `json:"visible"`
}

type dialogRequest struct {
	Open *bool `json:"open"`
}

type settingsRequest struct {
	Preferences *engine.Preferences `json:"preferences"`
	APIKey      *string             `json:"apiKey"`
}

// --- Responses ---

type balanceResponse struct {
	Balance int `json:"balance"`
}

type shopResponse struct {
	Items     []content.ShopItem `json:"items"`
	Food      []content.FoodItem `json:"food"`
	Owned     map[string]int     `json:"owned"`
	FoodOwned map[string]int     `json:"foodOwned"`
	Balance   int                `json:"balance"`
}

type creatureResponse struct {
	Creature  *engine.CreatureState `json:"creature"`
	Details   *content.Creature     `json:"details,omitempty"`
	Available []content.Creature    `json:"available"`
}

type examResponse struct {
	Exam          *engine.Exam `json:"exam"`
	CooldownUntil *time.Time   `json:"cooldownUntil,omitempty"`
	Remaining     string       `json:"remaining,omitempty"`
}

type sortingResponse struct {
	House     content.House             `json:"house,omitempty"`
	Reasoning string                    `json:"reasoning,omitempty"`
	Questions []content.SortingQuestion `json:"questions,omitempty"`
}

type settingsResponse struct {
	Preferences engine.Preferences `json:"preferences"`
	HasAPIKey   bool               `json:"hasApiKey"`
}
