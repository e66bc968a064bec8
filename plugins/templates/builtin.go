package templates

import "chatwrap/plugin"

var yesNo = []plugin.Option{
	{Label: "Yes", Value: true},
	{Label: "No", Value: false},
}

// builtinTemplates returns a fresh copy of the static catalog.
func builtinTemplates() []Template {
	return []Template{
		{
			ID:          "code-review",
			Name:        "Code Review",
			Description: "Review code for best practices and improvements",
			Category:    "Development",
			Body: "Please review the following {{language}} code:\n\n" +
				"```{{language}}\n{{code}}\n```\n\n" +
				"Review it for:\n" +
				"- Code quality and readability\n" +
				"- Performance optimizations\n" +
				"- Security vulnerabilities\n" +
				"- Adherence to best practices\n" +
				"{{#if includeRefactoring}}- Refactoring suggestions\n{{/if}}" +
				"{{#if specificConcerns}}\nPay particular attention to:\n{{specificConcerns}}\n{{/if}}",
			Variables: []Variable{
				{Name: "language", Description: "Programming language", Type: VarSelect, Required: true, Options: []plugin.Option{
					{Label: "Go", Value: "go"},
					{Label: "JavaScript", Value: "javascript"},
					{Label: "TypeScript", Value: "typescript"},
					{Label: "Python", Value: "python"},
					{Label: "Java", Value: "java"},
					{Label: "C++", Value: "cpp"},
				}},
				{Name: "code", Description: "Code to review", Type: VarMultiline, Required: true},
				{Name: "includeRefactoring", Description: "Include refactoring suggestions", Type: VarSelect, Default: true, Options: yesNo},
				{Name: "specificConcerns", Description: "Specific areas of concern", Type: VarMultiline},
			},
			Language: "en",
			Tags:     []string{"development", "code", "review"},
		},
		{
			ID:          "explain-concept",
			Name:        "Concept Explanation",
			Description: "Explain complex concepts in simple terms",
			Category:    "Education",
			Body: "Explain {{concept}} at a {{level}} level.\n" +
				"{{#if includeExamples}}\nUse real-world examples.\n{{/if}}" +
				"{{#if includeAnalogy}}\nUse an analogy that makes it easy to understand.\n{{/if}}" +
				"{{#if specificAspects}}\nFocus especially on:\n{{specificAspects}}\n{{/if}}",
			Variables: []Variable{
				{Name: "concept", Description: "Concept to explain", Type: VarText, Required: true},
				{Name: "level", Description: "Explanation level", Type: VarSelect, Required: true, Default: "intermediate", Options: []plugin.Option{
					{Label: "Beginner", Value: "beginner"},
					{Label: "Intermediate", Value: "intermediate"},
					{Label: "Expert", Value: "expert"},
				}},
				{Name: "includeExamples", Description: "Include examples", Type: VarSelect, Default: true, Options: yesNo},
				{Name: "includeAnalogy", Description: "Include analogies", Type: VarSelect, Default: false, Options: yesNo},
				{Name: "specificAspects", Description: "Specific aspects to focus on", Type: VarMultiline},
			},
			Language: "en",
			Tags:     []string{"education", "explanation", "learning"},
		},
		{
			ID:          "creative-writing",
			Name:        "Creative Writing",
			Description: "Generate creative content with specific parameters",
			Category:    "Creative",
			Body: "Write a {{type}}.\n\n" +
				"Topic: {{topic}}\n" +
				"Genre: {{genre}}\n" +
				"Mood: {{mood}}\n" +
				"Length: {{length}}\n" +
				"{{#if characters}}\nMain characters:\n{{characters}}\n{{/if}}" +
				"{{#if setting}}\nSetting:\n{{setting}}\n{{/if}}" +
				"{{#if style}}\nStyle: {{style}}\n{{/if}}" +
				"{{#if additionalRequirements}}\nAdditional requirements:\n{{additionalRequirements}}\n{{/if}}",
			Variables: []Variable{
				{Name: "type", Description: "Type of content", Type: VarSelect, Required: true, Options: []plugin.Option{
					{Label: "Short story", Value: "short story"},
					{Label: "Poem", Value: "poem"},
					{Label: "Essay", Value: "essay"},
					{Label: "Dialogue", Value: "dialogue"},
					{Label: "Screenplay", Value: "screenplay"},
				}},
				{Name: "topic", Description: "Topic or theme", Type: VarText, Required: true},
				{Name: "genre", Description: "Genre", Type: VarSelect, Options: []plugin.Option{
					{Label: "Romance", Value: "romance"},
					{Label: "Mystery", Value: "mystery"},
					{Label: "Science fiction", Value: "science fiction"},
					{Label: "Fantasy", Value: "fantasy"},
					{Label: "Drama", Value: "drama"},
					{Label: "Comedy", Value: "comedy"},
				}},
				{Name: "mood", Description: "Mood or tone", Type: VarText},
				{Name: "length", Description: "Desired length", Type: VarSelect, Default: "medium", Options: []plugin.Option{
					{Label: "Short", Value: "short"},
					{Label: "Medium", Value: "medium"},
					{Label: "Long", Value: "long"},
				}},
				{Name: "characters", Description: "Main characters", Type: VarMultiline},
				{Name: "setting", Description: "Setting description", Type: VarMultiline},
				{Name: "style", Description: "Writing style", Type: VarText},
				{Name: "additionalRequirements", Description: "Additional requirements", Type: VarMultiline},
			},
			Language: "en",
			Tags:     []string{"creative", "writing", "content"},
		},
	}
}
