// Package gauntlet evaluates a model by running a fixed catalog of
// sandbox tasks through the iterative runner and checking each result
// with a shell probe.
package gauntlet

// Difficulty grades a task.
type Difficulty string

const (
	Easy   Difficulty = "Easy"
	Medium Difficulty = "Medium"
	Hard   Difficulty = "Hard"
)

// Category groups tasks in listings.
type Category string

const (
	CategoryEnvironment Category = "Environment Management & Tooling"
	CategoryDevelopment Category = "Software Development & Refinement"
)

// PassMarker is printed by a check command when the task succeeded.
const PassMarker = "GAUNTLET_PASS"

// Task is one gauntlet entry.
type Task struct {
	ID          string
	Summary     string
	Description string
	Difficulty  Difficulty
	Category    Category
	// Setup prepares the sandbox before the model runs. Optional.
	Setup string
	// Prompt is the task given to the model.
	Prompt string
	// Check prints PassMarker when the task is done.
	Check string
}

func pass(cond string) string {
	return cond + " && echo " + PassMarker
}

// Catalog is the task list, in display order.
var Catalog = []Task{
	{
		ID:          "add-jq",
		Summary:     "Add jq tool to environment",
		Description: "Add jq tool for JSON parsing",
		Difficulty:  Easy,
		Category:    CategoryEnvironment,
		Prompt:      "Add the jq tool to the environment so that `jq --version` succeeds.",
		Check:       pass("command -v jq >/dev/null 2>&1"),
	},
	{
		ID:          "check-sed-available",
		Summary:     "Check sed tool availability",
		Description: "Verify sed tool availability",
		Difficulty:  Easy,
		Category:    CategoryEnvironment,
		Prompt:      "Check whether the sed tool is available in the environment. If it is not, install it. Report the sed version.",
		Check:       pass("echo abc | sed 's/b/x/' | grep -qx axc"),
	},
	{
		ID:          "create-project-dir",
		Summary:     "Create project directory",
		Description: "Create project directory",
		Difficulty:  Easy,
		Category:    CategoryEnvironment,
		Prompt:      "Create a directory named `project` in the home directory.",
		Check:       pass("test -d ~/project"),
	},
	{
		ID:          "add-xml-converter",
		Summary:     "Create XML to JSON converter",
		Description: "Create XML to JSON converter",
		Difficulty:  Medium,
		Category:    CategoryEnvironment,
		Prompt: "Create an executable script at ~/bin/xml2json that reads an XML document on standard input " +
			"and writes the equivalent JSON to standard output. Install any tools it needs.",
		Check: pass(`echo '<root><item>1</item></root>' | ~/bin/xml2json 2>/dev/null | grep -q '"item"'`),
	},
	{
		ID:          "resolve-python-dependency",
		Summary:     "Fix Python dependency issue",
		Description: "Fix missing Python dependencies",
		Difficulty:  Hard,
		Category:    CategoryEnvironment,
		Setup:       `printf '%s\n' 'import requests' 'print(requests.__name__)' > ~/app.py`,
		Prompt:      "The script ~/app.py fails because of a missing Python module. Make `python3 ~/app.py` run successfully without editing the script.",
		Check:       pass("python3 ~/app.py >/dev/null 2>&1"),
	},
	{
		ID:          "hello-world-server",
		Summary:     "Create web server",
		Description: "Create simple web server",
		Difficulty:  Easy,
		Category:    CategoryDevelopment,
		Prompt: "Start a web server on port 8080 that answers GET / with the text `Hello, World!`. " +
			"Leave it running in the background.",
		Check: pass("curl -s http://localhost:8080/ | grep -q 'Hello, World!'"),
	},
	{
		ID:          "create-hugo-site",
		Summary:     "Create Hugo static site",
		Description: "Set up Hugo static site",
		Difficulty:  Medium,
		Category:    CategoryDevelopment,
		Prompt: "Create a Hugo site in ~/blog with one post titled `My First Post`, " +
			"then build the site so that ~/blog/public/index.html exists.",
		Check: pass("test -f ~/blog/public/index.html && grep -rq 'My First Post' ~/blog/content"),
	},
	{
		ID:          "refine-existing-codebase",
		Summary:     "Refine existing code",
		Description: "Improve existing code",
		Difficulty:  Hard,
		Category:    CategoryDevelopment,
		Setup: `mkdir -p ~/calc && printf '%s\n' 'import sys' '' 'def add(a, b):' '    return a + b' '' ` +
			`'if sys.argv[1] == "add":' '    print(add(int(sys.argv[2]), int(sys.argv[3])))' > ~/calc/calc.py`,
		Prompt: "The program ~/calc/calc.py only supports `add`. Add a `sub` operation so that " +
			"`python3 ~/calc/calc.py sub 5 3` prints 2, keeping `add` working.",
		Check: pass(`[ "$(python3 ~/calc/calc.py sub 5 3 2>/dev/null)" = "2" ] && [ "$(python3 ~/calc/calc.py add 2 2 2>/dev/null)" = "4" ]`),
	},
}

// Lookup returns the catalog entry for id.
func Lookup(id string) (Task, bool) {
	for _, t := range Catalog {
		if t.ID == id {
			return t, true
		}
	}
	return Task{}, false
}
