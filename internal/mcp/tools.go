package mcp

import (
	"fmt"
	"slices"
	"strings"

	"github.com/manash/uigen/pkg/models"
)

const ToolGenerateComponent = "generate_component"

// ToolDefinitions lists the tools this server exposes. frameworks limits the framework
// enum; empty means every known framework.
func ToolDefinitions(frameworks []models.Framework) []ToolDefinition {
	if len(frameworks) == 0 {
		frameworks = models.ValidFrameworks()
	}

	fwNames := make([]string, len(frameworks))
	for i, f := range frameworks {
		fwNames[i] = string(f)
	}
	stylings := models.ValidStylings()
	stNames := make([]string, len(stylings))
	for i, s := range stylings {
		stNames[i] = string(s)
	}

	defaultFramework := string(models.DefaultFramework)
	if !slices.Contains(fwNames, defaultFramework) {
		defaultFramework = fwNames[0]
	}

	return []ToolDefinition{
		{
			Name: ToolGenerateComponent,
			Description: "Generate a UI component from a description. Five variations are rendered " +
				"in a browser gallery; the call returns once the user picks one, with that " +
				"variation's source code.",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"description": {Type: "string", Description: "What the component should look like and do"},
					"framework": {Type: "string", Description: "Target framework",
						Enum: fwNames, Default: defaultFramework},
					"styling": {Type: "string", Description: "Styling approach",
						Enum: stNames, Default: string(models.DefaultStyling)},
				},
				Required: []string{"description"},
			},
		},
	}
}

// requestFromArgs builds a request from tool arguments. Enum checks happen in the
// dispatcher; this only rejects wrongly typed values.
func requestFromArgs(args map[string]interface{}) (*models.GenerationRequest, error) {
	description, err := stringArg(args, "description")
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(description) == "" {
		return nil, fmt.Errorf("description is required")
	}

	framework, err := stringArg(args, "framework")
	if err != nil {
		return nil, err
	}
	styling, err := stringArg(args, "styling")
	if err != nil {
		return nil, err
	}

	return &models.GenerationRequest{
		Description: description,
		Framework:   models.Framework(strings.ToLower(strings.TrimSpace(framework))),
		Styling:     models.Styling(strings.ToLower(strings.TrimSpace(styling))),
	}, nil
}

func stringArg(args map[string]interface{}, key string) (string, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%s must be a string", key)
	}
	return s, nil
}
