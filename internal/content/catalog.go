// Package content holds the static pools the engine draws from and the
// generator that turns a pool into the content for one period.
package content

import (
	_ "embed"
	"fmt"
	"slices"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// House is one of the four school houses.
type House string

const (
	Gryffindor House = "Gryffindor"
	Slytherin  House = "Slytherin"
	Ravenclaw  House = "Ravenclaw"
	Hufflepuff House = "Hufflepuff"
)

// ExamQuestion is one multiple-choice trivia question.
type ExamQuestion struct {
	Question      string   `yaml:"question" json:"question"`
	Options       []string `yaml:"options" json:"options"`
	CorrectAnswer string   `yaml:"correctAnswer" json:"correctAnswer"`
}

// ShopItem is a collectible sold for reward currency.
type ShopItem struct {
	ID          string `yaml:"id" json:"id"`
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description"`
	Price       int    `yaml:"price" json:"price"`
	Icon        string `yaml:"icon" json:"icon"`
}

// FoodItem is sold in the shop and fed to a creature.
type FoodItem struct {
	ID          string   `yaml:"id" json:"id"`
	Name        string   `yaml:"name" json:"name"`
	Price       int      `yaml:"price" json:"price"`
	EnergyBoost int      `yaml:"energyBoost" json:"energyBoost"`
	ForCreature []string `yaml:"forCreature" json:"forCreature"`
}

// Eats reports whether creatureID accepts this food.
func (f FoodItem) Eats(creatureID string) bool {
	return slices.Contains(f.ForCreature, creatureID)
}

// Creature is an adoptable pet.
type Creature struct {
	ID          string `yaml:"id" json:"id"`
	Name        string `yaml:"name" json:"name"`
	Species     string `yaml:"species" json:"species"`
	Personality string `yaml:"personality" json:"personality"`
}

// Potion is a mood in the mood calendar.
type Potion struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description"`
	Color       string `yaml:"color" json:"color"`
}

// SortingOption is one answer to a sorting quiz question.
type SortingOption struct {
	Text  string `yaml:"text" json:"text"`
	Trait string `yaml:"trait" json:"trait"`
}

// SortingQuestion is one question of the onboarding quiz.
type SortingQuestion struct {
	Question string          `yaml:"question" json:"question"`
	Options  []SortingOption `yaml:"options" json:"options"`
}

// Catalog is every static pool the engine uses.
type Catalog struct {
	Houses        []House           `yaml:"houses"`
	Decrees       []Item            `yaml:"decrees"`
	ExamTitles    []string          `yaml:"examTitles"`
	ExamQuestions []ExamQuestion    `yaml:"examQuestions"`
	ShopItems     []ShopItem        `yaml:"shopItems"`
	FoodItems     []FoodItem        `yaml:"foodItems"`
	Creatures     []Creature        `yaml:"creatures"`
	Potions       []Potion          `yaml:"potions"`
	SortingQuiz   []SortingQuestion `yaml:"sortingQuiz"`
	Facts         []string          `yaml:"facts"`
}

// Parse decodes and validates a YAML catalog.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Default returns the catalog embedded in the binary.
func Default() *Catalog {
	c, err := Parse(defaultCatalog)
	if err != nil {
		panic(fmt.Sprintf("content: embedded catalog is invalid: %v", err))
	}
	return c
}

// Validate checks the cross references the engine relies on.
func (c *Catalog) Validate() error {
	if len(c.Houses) == 0 {
		return fmt.Errorf("catalog: no houses")
	}
	if len(c.Decrees) == 0 {
		return fmt.Errorf("catalog: empty decree pool")
	}
	seen := make(map[string]bool, len(c.Decrees))
	for _, d := range c.Decrees {
		if d.ID == "" || seen[d.ID] {
			return fmt.Errorf("catalog: decree id %q is empty or duplicated", d.ID)
		}
		seen[d.ID] = true
	}
	for _, q := range c.ExamQuestions {
		if !slices.Contains(q.Options, q.CorrectAnswer) {
			return fmt.Errorf("catalog: exam question %q has no correct option", q.Question)
		}
	}
	creatures := make(map[string]bool, len(c.Creatures))
	for _, cr := range c.Creatures {
		creatures[cr.ID] = true
	}
	for _, f := range c.FoodItems {
		for _, id := range f.ForCreature {
			if !creatures[id] {
				return fmt.Errorf("catalog: food %q references unknown creature %q", f.ID, id)
			}
		}
	}
	return nil
}

// IsHouse reports whether name is a known house.
func (c *Catalog) IsHouse(name string) bool {
	return slices.Contains(c.Houses, House(name))
}

// ShopItem looks up a collectible by id.
func (c *Catalog) ShopItem(id string) (ShopItem, bool) {
	for _, it := range c.ShopItems {
		if it.ID == id {
			return it, true
		}
	}
	return ShopItem{}, false
}

// Food looks up a food item by id.
func (c *Catalog) Food(id string) (FoodItem, bool) {
	for _, f := range c.FoodItems {
		if f.ID == id {
			return f, true
		}
	}
	return FoodItem{}, false
}

// Creature looks up a creature by id.
func (c *Catalog) Creature(id string) (Creature, bool) {
	for _, cr := range c.Creatures {
		if cr.ID == id {
			return cr, true
		}
	}
	return Creature{}, false
}

// Potion looks up a potion by name.
func (c *Catalog) Potion(name string) (Potion, bool) {
	for _, p := range c.Potions {
		if p.Name == name {
			return p, true
		}
	}
	return Potion{}, false
}
