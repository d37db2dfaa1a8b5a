package queue

import (
	"encoding/json"
	"testing"
)

func TestJobMessageValidate(t *testing.T) {
	msg := JobMessage{
		JobID:   "job-1",
		BatchID: "batch-1",
	}
	if err := msg.Validate(); err != nil {
		t.Fatalf("Validate() unexpected error: %v", err)
	}

	msg.JobID = ""
	if err := msg.Validate(); err == nil {
		t.Fatal("expected error for empty job id")
	}

	msg.JobID = "   "
	if err := msg.Validate(); err == nil {
		t.Fatal("expected error for blank job id")
	}
}

func TestJobMessageJSONShape(t *testing.T) {
	msg := JobMessage{JobID: "job-1"}

	payload, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	want := `{"jobId":"job-1"}`
	if string(payload) != want {
		t.Fatalf("payload = %s, want %s", payload, want)
	}
}

func TestQueueNames(t *testing.T) {
	if ProvisionQueueName != "provision" {
		t.Fatalf("ProvisionQueueName = %s, want provision", ProvisionQueueName)
	}
	if ProvisionDLQName != "dlq.provision" {
		t.Fatalf("ProvisionDLQName = %s, want dlq.provision", ProvisionDLQName)
	}
	if SetupQueueName != "setup" {
		t.Fatalf("SetupQueueName = %s, want setup", SetupQueueName)
	}
	if SetupDLQName != "dlq.setup" {
		t.Fatalf("SetupDLQName = %s, want dlq.setup", SetupDLQName)
	}
}
