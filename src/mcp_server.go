package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// startMCP serves the project over the model context protocol so clients
// like vscode can ask about stage states and file roles.
func startMCP(useHttp string) {
	// if the useHttp string is empty use stdin/stdout
	if useHttp == "" {
		log.Println("Starting MCP server using stdin/stdout")
	}

	opts := &mcp.ServerOptions{
		Instructions:      "Use this server with the MCP protocol in vcode or other clients.",
		CompletionHandler: complete,
		RootsListChangedHandler: func(ctx context.Context, req *mcp.RootsListChangedRequest) {
			// the root is the project folder, nothing to invalidate here
		},
	}

	server := mcp.NewServer(&mcp.Implementation{Name: "fbp", Version: version}, opts)

	mcp.AddTool(server, &mcp.Tool{Name: "fbp/info", Description: "FBP is a tool to run fetal and neonatal brain MRI preprocessing pipelines. This returns the settings and stage states of the current project."}, infoTool)
	mcp.AddTool(server, &mcp.Tool{Name: "classify", Description: "Return the role a filename plays in the pipeline (brain volume, label mask, surface, ...) and the interpolation it gets when a transform is applied."}, classifyTool)
	mcp.AddTool(server, &mcp.Tool{Name: "stages", Description: "List the pipeline stages of the project with their tool and state."}, stagesTool)
	mcp.AddTool(server, &mcp.Tool{Name: "ask/age", Description: "Ask the user for the gestational age in weeks."}, askAgeTool)
	mcp.AddTool(server, &mcp.Tool{Name: "ping"}, pingingTool)

	server.AddResource(&mcp.Resource{
		Name:     "info",
		MIMEType: "text/plain",
		URI:      "embedded:info",
	}, embeddedResource)
	server.AddResource(&mcp.Resource{
		Name:     "subject",
		MIMEType: "text/plain",
		URI:      "embedded:subject",
	}, embeddedResource)
	server.AddResource(&mcp.Resource{
		Name:     "workdir",
		MIMEType: "text/plain",
		URI:      "embedded:workdir",
	}, embeddedResource)
	server.AddResource(&mcp.Resource{
		Name:     "numstages",
		MIMEType: "text/plain",
		URI:      "embedded:numstages",
	}, embeddedResource)
	server.AddResource(&mcp.Resource{
		Name:     "numdone",
		MIMEType: "text/plain",
		URI:      "embedded:numdone",
	}, embeddedResource)

	// Serve over stdio, or streamable HTTP if -http is set.
	if useHttp != "" {
		handler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
			return server
		}, nil)
		log.Printf("MCP handler listening at %s", useHttp)
		http.ListenAndServe(useHttp, handler)
	} else {
		t := &mcp.LoggingTransport{Transport: &mcp.StdioTransport{}, Writer: os.Stderr}
		if err := server.Run(context.Background(), t); err != nil {
			log.Printf("Server failed: %v", err)
		}
	}
}

var embeddedResources = map[string]string{
	"info":      "This is the 'fbp' tool server. 'fbp' runs fetal and neonatal brain MRI preprocessing pipelines (reorientation, brain extraction, registration, reconstruction, surfaces).",
	"subject":   "",
	"workdir":   "",
	"numstages": "",
	"numdone":   "",
}

func getInputDir(ctx context.Context, session *mcp.ServerSession) (string, error) {
	res, err := session.ListRoots(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("listing roots failed: %v", err)
	}
	var allroots []string
	for _, r := range res.Roots {
		uri_temp := strings.TrimPrefix(r.URI, "file://")
		allroots = append(allroots, uri_temp)
	}
	if len(allroots) == 0 {
		return "", fmt.Errorf("no root folder set")
	}
	return allroots[0], nil
}

// projectRun builds a read-only run for the project at the first root, the
// same way status does it.
func projectRun(ctx context.Context, session *mcp.ServerSession) (*PipelineRun, error) {
	dir, err := getInputDir(ctx, session)
	if err != nil {
		return nil, err
	}
	input_dir = dir
	config, err := readConfig(dir + "/.fbp/config")
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %v", err)
	}
	p := RunParams{
		SubjectID:      config.SubjectID,
		Session:        config.Session,
		GestationalAge: config.GestationalAge,
		Mode:           config.Mode,
		Extraction:     config.Extraction,
	}
	if p.SubjectID == "" {
		if subject, err := resolveSubject(dir); err == nil {
			p.SubjectID = subject.Subject
			p.Session = subject.Session
		}
	}
	if p.Mode == "" {
		p.Mode = "postnatal"
	}
	return buildRun(dir, p, true)
}

func embeddedResource(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	u, err := url.Parse(req.Params.URI)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "embedded" {
		return nil, fmt.Errorf("wrong scheme: %q", u.Scheme)
	}
	key := u.Opaque
	text, ok := embeddedResources[key]
	if !ok {
		return nil, fmt.Errorf("no embedded resource named %q", key)
	}

	if key != "info" {
		run, err := projectRun(ctx, req.Session)
		if err != nil {
			return nil, err
		}
		switch key {
		case "subject":
			text = run.Subject.String()
		case "workdir":
			text = run.WorkDir
		case "numstages":
			text = fmt.Sprintf("%d", len(run.Stages))
		case "numdone":
			done := 0
			for _, stage := range run.Stages {
				if stageState(run, stage) == "done" {
					done++
				}
			}
			text = fmt.Sprintf("%d", done)
		}
	}

	if text == "" {
		text = "empty string"
	}

	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{
			{URI: req.Params.URI, MIMEType: "text/plain", Text: text},
		},
	}, nil
}

type args struct {
	Name string `json:"name" jsonschema:"the filename to look at"`
}

type result struct {
	Message string `json:"message" jsonschema:"the message to convey"`
}

type classifyResult struct {
	Role          string `json:"role" jsonschema:"the role the file plays in the pipeline"`
	Interpolation string `json:"interpolation" jsonschema:"the interpolation used when a transform is applied"`
}

type stageEntry struct {
	Name  string `json:"name" jsonschema:"the stage name"`
	Tool  string `json:"tool" jsonschema:"the external tool the stage calls"`
	State string `json:"state" jsonschema:"done, pending or no declared output"`
}

type stagesResult struct {
	Subject string       `json:"subject" jsonschema:"the subject identifier"`
	Stages  []stageEntry `json:"stages" jsonschema:"the stages in execution order"`
}

// infoTool returns the project settings and stage states.
func infoTool(ctx context.Context, req *mcp.CallToolRequest, args *args) (*mcp.CallToolResult, *result, error) {
	run, err := projectRun(ctx, req.Session)
	if err != nil {
		return &mcp.CallToolResult{
			Content: []mcp.Content{
				&mcp.TextContent{Text: fmt.Sprintf("Error, could not read the project, %v", err)},
			},
		}, &result{Message: "FBP runs fetal brain MRI preprocessing pipelines"}, nil
	}
	jsonContent, err := json.Marshal(map[string]interface{}{
		"subject": run.Subject.String(),
		"workdir": run.WorkDir,
		"mode":    run.Params.Mode,
		"age":     run.Params.GestationalAge,
		"stages":  len(run.Stages),
	})
	if err != nil {
		return nil, nil, err
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(jsonContent)},
		},
	}, &result{Message: "FBP runs fetal brain MRI preprocessing pipelines"}, nil
}

func classifyTool(ctx context.Context, req *mcp.CallToolRequest, args *args) (*mcp.CallToolResult, *classifyResult, error) {
	role := classify(args.Name)
	return nil, &classifyResult{
		Role:          role.String(),
		Interpolation: role.Interpolation().String(),
	}, nil
}

func stagesTool(ctx context.Context, req *mcp.CallToolRequest, _ any) (*mcp.CallToolResult, *stagesResult, error) {
	run, err := projectRun(ctx, req.Session)
	if err != nil {
		return nil, nil, err
	}
	res := &stagesResult{Subject: run.Subject.String()}
	for _, stage := range run.Stages {
		res.Stages = append(res.Stages, stageEntry{
			Name:  stage.Name,
			Tool:  stage.Tool,
			State: stageState(run, stage),
		})
	}
	return nil, res, nil
}

func askAgeTool(ctx context.Context, req *mcp.CallToolRequest, _ any) (*mcp.CallToolResult, any, error) {
	res, err := req.Session.Elicit(ctx, &mcp.ElicitParams{
		Message: "What is the gestational age in weeks at the time of the scan?",
		RequestedSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"age": {Type: "string", Description: "gestational age in weeks, 20 to 45"},
			},
		},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("eliciting failed: %v", err)
	}
	ageStr, _ := res.Content["age"].(string)
	age, err := validateGestationalAge(ageStr)
	if err != nil {
		return nil, nil, err
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: fmt.Sprintf("%d", age)},
		},
	}, nil, nil
}

func pingingTool(ctx context.Context, req *mcp.CallToolRequest, _ any) (*mcp.CallToolResult, any, error) {
	if err := req.Session.Ping(ctx, nil); err != nil {
		return nil, nil, fmt.Errorf("ping failed")
	}
	return nil, nil, nil
}

func complete(ctx context.Context, req *mcp.CompleteRequest) (*mcp.CompleteResult, error) {
	var suggestions []string
	switch req.Params.Ref.Type {
	case "ref/prompt":
		suggestions = []string{"fbp init", "fbp run", "fbp config"}
	case "ref/resource":
		suggestions = []string{"subject", "workdir", "numstages", "numdone"}
	default:
		return nil, fmt.Errorf("unrecognized content type %s", req.Params.Ref.Type)
	}

	return &mcp.CompleteResult{
		Completion: mcp.CompletionResultDetails{
			Total:  len(suggestions),
			Values: suggestions,
		},
	}, nil
}
