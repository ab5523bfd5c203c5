package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed bots.yaml
var defaultCatalog []byte

var ErrUnknownBot = errors.New("unknown bot")

type Button struct {
	Label string `yaml:"label" json:"label"`
	Type  string `yaml:"type" json:"type"`
}

type Bot struct {
	Key      string   `yaml:"key" json:"key"`
	Username string   `yaml:"username" json:"username"`
	Buttons  []Button `yaml:"buttons" json:"buttons"`
}

type Catalog struct {
	bots           []Bot
	byKey          map[string]Bot
	symbolOptional map[string]struct{}
}

type catalogFile struct {
	SymbolOptional []string `yaml:"symbol_optional"`
	Bots           []Bot    `yaml:"bots"`
}

// Load reads the catalog at path, or the embedded default when path is empty.
func Load(path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return Parse(defaultCatalog)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read bot catalog: %w", err)
	}
	return Parse(data)
}

func Default() *Catalog {
	c, err := Parse(defaultCatalog)
	if err != nil {
		panic(fmt.Sprintf("embedded bot catalog: %v", err))
	}
	return c
}

func Parse(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse bot catalog: %w", err)
	}
	if len(file.Bots) == 0 {
		return nil, errors.New("bot catalog has no bots")
	}
	c := &Catalog{
		bots:           make([]Bot, 0, len(file.Bots)),
		byKey:          make(map[string]Bot, len(file.Bots)),
		symbolOptional: map[string]struct{}{},
	}
	for i, bot := range file.Bots {
		bot.Key = strings.TrimSpace(bot.Key)
		bot.Username = strings.TrimSpace(bot.Username)
		if bot.Key == "" || bot.Username == "" {
			return nil, fmt.Errorf("bot %d: key and username are required", i)
		}
		if _, exists := c.byKey[bot.Key]; exists {
			return nil, fmt.Errorf("bot %q defined twice", bot.Key)
		}
		for j, button := range bot.Buttons {
			if strings.TrimSpace(button.Type) == "" {
				return nil, fmt.Errorf("bot %q button %d: type is required", bot.Key, j)
			}
		}
		c.bots = append(c.bots, bot)
		c.byKey[bot.Key] = bot
	}
	for _, requestType := range file.SymbolOptional {
		if trimmed := strings.TrimSpace(requestType); trimmed != "" {
			c.symbolOptional[trimmed] = struct{}{}
		}
	}
	return c, nil
}

func (c *Catalog) Bots() []Bot {
	out := make([]Bot, len(c.bots))
	for i, bot := range c.bots {
		bot.Buttons = append([]Button(nil), bot.Buttons...)
		out[i] = bot
	}
	return out
}

func (c *Catalog) Bot(key string) (Bot, error) {
	bot, ok := c.byKey[key]
	if !ok {
		return Bot{}, fmt.Errorf("%w: %s", ErrUnknownBot, key)
	}
	bot.Buttons = append([]Button(nil), bot.Buttons...)
	return bot, nil
}

// First is the bot selected when no active bot is configured.
func (c *Catalog) First() Bot {
	return c.bots[0]
}

// RequiresSymbol reports whether requests of this type need a ticker.
func (c *Catalog) RequiresSymbol(requestType string) bool {
	_, optional := c.symbolOptional[strings.TrimSpace(requestType)]
	return !optional
}
