package copilot

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

const suggestedActorsQuery = `query($owner: String!, $name: String!) {
  repository(owner: $owner, name: $name) {
    id
    suggestedActors(capabilities: [CAN_BE_ASSIGNED], first: 100) {
      nodes {
        login
        __typename
        ... on Bot { id }
        ... on User { id }
      }
    }
  }
}`

const createIssueMutation = `mutation($repositoryId: ID!, $title: String!, $body: String!, $assigneeIds: [ID!]) {
  createIssue(input: {repositoryId: $repositoryId, title: $title, body: $body, assigneeIds: $assigneeIds}) {
    issue {
      id
      number
      url
      title
    }
  }
}`

var errAgentUnavailable = errors.New("copilot coding agent is not assignable in this repository")

// createAssignedIssue creates an issue with Copilot as assignee using
// the GraphQL API, which is the only way to assign the agent.
func (c *Client) createAssignedIssue(ctx context.Context, title, body string) (int, string, error) {
	owner, name, _ := strings.Cut(c.repo, "/")

	var repoData struct {
		Repository struct {
			ID              string `json:"id"`
			SuggestedActors struct {
				Nodes []struct {
					Login    string `json:"login"`
					ID       string `json:"id"`
					TypeName string `json:"__typename"`
				} `json:"nodes"`
			} `json:"suggestedActors"`
		} `json:"repository"`
	}
	if err := c.tracker.GraphQL(ctx, suggestedActorsQuery, map[string]any{"owner": owner, "name": name}, &repoData); err != nil {
		return 0, "", fmt.Errorf("query assignable actors: %w", err)
	}

	var agentID string
	for _, n := range repoData.Repository.SuggestedActors.Nodes {
		if n.Login == AgentLogin {
			agentID = n.ID
			break
		}
	}
	if agentID == "" || repoData.Repository.ID == "" {
		return 0, "", errAgentUnavailable
	}

	var created struct {
		CreateIssue struct {
			Issue struct {
				ID     string `json:"id"`
				Number int    `json:"number"`
				URL    string `json:"url"`
				Title  string `json:"title"`
			} `json:"issue"`
		} `json:"createIssue"`
	}
	vars := map[string]any{
		"repositoryId": repoData.Repository.ID,
		"title":        title,
		"body":         body,
		"assigneeIds":  []string{agentID},
	}
	if err := c.tracker.GraphQL(ctx, createIssueMutation, vars, &created); err != nil {
		return 0, "", fmt.Errorf("create assigned issue: %w", err)
	}

	issue := created.CreateIssue.Issue
	if issue.Number == 0 {
		return 0, "", errors.New("create assigned issue: empty response")
	}
	url := issue.URL
	if url == "" {
		url = c.webURL("issues", issue.Number)
	}
	return issue.Number, url, nil
}
