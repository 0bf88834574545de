package llm

import (
	openai "github.com/sashabaranov/go-openai"
	"github.com/sashabaranov/go-openai/jsonschema"
)

// Tools returns the function definitions offered to the router.
func Tools() []openai.Tool {
	return []openai.Tool{
		function("search", "Search for information based on a query", jsonschema.Definition{
			Type: jsonschema.Object,
			Properties: map[string]jsonschema.Definition{
				"q": {Type: jsonschema.String, Description: "The search query"},
			},
			Required: []string{"q"},
		}),
		function("stock", "Get the latest stock information for a given symbol", jsonschema.Definition{
			Type: jsonschema.Object,
			Properties: map[string]jsonschema.Definition{
				"symbol": {Type: jsonschema.String, Description: "Stock symbol to fetch data for."},
			},
			Required: []string{"symbol"},
		}),
		function("dictionary", "Get dictionary information for a given word", jsonschema.Definition{
			Type: jsonschema.Object,
			Properties: map[string]jsonschema.Definition{
				"word": {Type: jsonschema.String, Description: "Word to look up in the dictionary."},
			},
			Required: []string{"word"},
		}),
		function("weather", "Get the current weather in a given location", jsonschema.Definition{
			Type: jsonschema.Object,
			Properties: map[string]jsonschema.Definition{
				"location": {Type: jsonschema.String, Description: "City name to fetch the weather for."},
				"unit": {
					Type:        jsonschema.String,
					Enum:        []string{"celsius", "fahrenheit"},
					Description: "Temperature unit.",
				},
			},
			Required: []string{"location"},
		}),
	}
}

func function(name, description string, params jsonschema.Definition) openai.Tool {
	return openai.Tool{
		Type: openai.ToolTypeFunction,
		Function: &openai.FunctionDefinition{
			Name:        name,
			Description: description,
			Parameters:  params,
		},
	}
}
