package pubsub

import (
	"context"
	"testing"

	"github.com/angelmondragon/giftledger-backend/pkg/config"
)

func TestTopicResourceName(t *testing.T) {
	cases := []struct {
		project string
		name    string
		want    string
	}{
		{project: "gl-prod", name: "gl-ledger-events", want: "projects/gl-prod/topics/gl-ledger-events"},
		{project: "gl-prod", name: " projects/other/topics/x ", want: "projects/other/topics/x"},
		{project: "", name: "gl-ledger-events", want: ""},
		{project: "gl-prod", name: "  ", want: ""},
	}
	for _, tc := range cases {
		if got := TopicResourceName(tc.project, tc.name); got != tc.want {
			t.Fatalf("TopicResourceName(%q, %q) = %q want %q", tc.project, tc.name, got, tc.want)
		}
	}
}

func TestTopicNamesSkipsBlank(t *testing.T) {
	names := topicNames(config.PubSubConfig{LedgerTopic: "ledger", FulfillmentTopic: " "})
	if len(names) != 1 || names[0] != "ledger" {
		t.Fatalf("unexpected topics %v", names)
	}
}

func TestNewClientRequiresProject(t *testing.T) {
	if _, err := NewClient(context.Background(), config.GCPConfig{}, config.PubSubConfig{LedgerTopic: "ledger"}, nil); err != errProjectIDRequired {
		t.Fatalf("expected project id error, got %v", err)
	}
}

func TestNilClientIsSafe(t *testing.T) {
	var c *Client
	if c.Publisher("ledger") != nil {
		t.Fatal("expected nil publisher")
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := c.Ping(context.Background()); err == nil {
		t.Fatal("expected ping error on nil client")
	}
}

func TestNewClientRequiresTopics(t *testing.T) {
	_, err := NewClient(context.Background(), config.GCPConfig{ProjectID: "gl-dev"}, config.PubSubConfig{LedgerTopic: " "}, nil)
	if err == nil || err == errProjectIDRequired {
		t.Fatalf("expected missing topics error, got %v", err)
	}
}

func TestCredentialOptionsPreference(t *testing.T) {
	if got := credentialOptions(config.GCPConfig{}); len(got) != 0 {
		t.Fatalf("expected ambient credentials, got %d options", len(got))
	}
	if got := credentialOptions(config.GCPConfig{CredentialsJSON: `{"type":"service_account"}`, ApplicationCredentials: "/keys/sa.json"}); len(got) != 1 {
		t.Fatalf("expected one option, got %d", len(got))
	}
	if got := credentialOptions(config.GCPConfig{ApplicationCredentials: "/keys/sa.json"}); len(got) != 1 {
		t.Fatalf("expected file option, got %d", len(got))
	}
}
