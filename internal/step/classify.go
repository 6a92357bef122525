package step

import "strings"

// ShellTitle is the title of every RunScript step.
const ShellTitle = "Run shell command"

type fileRule struct {
	title       string
	description string
}

var exactRules = map[string]fileRule{
	"eslint.config.js":   {"Setup ESLint config", "Defines ESLint rules and plugins for code quality."},
	"tailwind.config.js": {"Configure Tailwind CSS", "Customizes Tailwind utility classes."},
	"vite.config.ts":     {"Setup Vite config", "Configuration file for Vite build tool."},
	"package.json":       {"Create package.json", "Specifies project dependencies and scripts."},
}

// suffixRules are checked in order. A "%s" in the title is replaced by the
// file name.
var suffixRules = []struct {
	suffix string
	fileRule
}{
	{".tsx", fileRule{"Create React Component %s", "React component file."}},
	{".html", fileRule{"Create %s", "HTML entry point for the app."}},
	{".css", fileRule{"Create CSS Stylesheet", "Global styles for the application."}},
}

var defaultRule = fileRule{"Create %s", "Create a project file."}

func classify(name string) fileRule {
	if r, ok := exactRules[name]; ok {
		return r
	}
	for _, r := range suffixRules {
		if strings.HasSuffix(name, r.suffix) {
			return r.fileRule
		}
	}
	return defaultRule
}

// TitleFor returns the human-readable title for creating fileName.
func TitleFor(fileName string) string {
	return strings.Replace(classify(fileName).title, "%s", fileName, 1)
}

// DescriptionFor returns the human-readable description for fileName.
func DescriptionFor(fileName string) string {
	return classify(fileName).description
}
