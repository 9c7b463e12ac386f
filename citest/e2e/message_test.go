package e2e_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/opencode-ai/agentcore/citest/testutil"
	"github.com/opencode-ai/agentcore/internal/event"
	"github.com/opencode-ai/agentcore/pkg/types"
)

// sendAsync sends a message in the background; the run may block on a
// permission prompt.
func sendAsync(sessionID, text string) <-chan *types.MessageWithParts {
	done := make(chan *types.MessageWithParts, 1)
	go func() {
		defer GinkgoRecover()
		msg, err := client.SendMessage(ctx, sessionID, text)
		Expect(err).NotTo(HaveOccurred())
		done <- msg
	}()
	return done
}

func toolResults(msg *types.MessageWithParts) []*types.ToolResultPart {
	var out []*types.ToolResultPart
	for _, p := range msg.Parts {
		if r, ok := p.(*types.ToolResultPart); ok {
			out = append(out, r)
		}
	}
	return out
}

var _ = Describe("Message Workflows", func() {
	var (
		tempDir *testutil.TempDir
		session *types.Session
		sse     *testutil.SSEClient
	)

	BeforeEach(func() {
		var err error
		tempDir, err = testutil.NewTempDir()
		Expect(err).NotTo(HaveOccurred())

		session, err = client.CreateSession(ctx, tempDir.Path, "")
		Expect(err).NotTo(HaveOccurred())

		sse = testServer.SSEClient()
		Expect(sse.Connect(ctx, "/event?sessionID="+session.ID)).To(Succeed())
	})

	AfterEach(func() {
		sse.Close()
		if session != nil {
			client.DeleteSession(ctx, session.ID)
		}
		if tempDir != nil {
			tempDir.Cleanup()
		}
	})

	Describe("Simple Message Exchange", func() {
		It("should send message and receive response", func() {
			msg, err := client.SendMessage(ctx, session.ID, "Hello")
			Expect(err).NotTo(HaveOccurred())

			Expect(msg.Info.Role).To(Equal(types.RoleAssistant))
			Expect(msg.Info.Status).To(Equal(types.StatusComplete))
			Expect(testutil.MessageText(msg)).To(Equal("echo: Hello"))

			history, err := client.GetMessages(ctx, session.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(history).To(HaveLen(2))
			Expect(history[0].Info.Role).To(Equal(types.RoleUser))
			Expect(history[1].Info.ParentID).To(Equal(history[0].Info.ID))
		})

		It("should accumulate usage", func() {
			_, err := client.SendMessage(ctx, session.ID, "one")
			Expect(err).NotTo(HaveOccurred())
			_, err = client.SendMessage(ctx, session.ID, "two")
			Expect(err).NotTo(HaveOccurred())

			usage, err := client.GetUsage(ctx, session.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(usage.Tokens.Input).To(Equal(20))
			Expect(usage.Tokens.Output).To(Equal(10))
		})

		It("should stream the session's events", func() {
			_, err := client.SendMessage(ctx, session.ID, "stream me")
			Expect(err).NotTo(HaveOccurred())

			_, err = sse.WaitFor(func(evt testutil.SSEEvent) bool {
				if evt.Type != string(event.LoopState) {
					return false
				}
				var data event.LoopStateData
				return evt.Decode(&data) == nil && data.State == "idle"
			}, 5*time.Second)
			Expect(err).NotTo(HaveOccurred())

			Expect(sse.CountEventType(event.MessageCreated)).To(Equal(2))
			Expect(sse.CountEventType(event.PartCreated)).To(BeNumerically(">=", 2))
			for _, evt := range sse.GetAllEvents() {
				if evt.Type == "heartbeat" {
					continue
				}
				Expect(evt.SessionID()).To(Equal(session.ID), evt.Type)
			}
		})
	})

	Describe("Tool Permissions", func() {
		It("should run the tool once approved", func() {
			done := sendAsync(session.ID, "write notes.txt approved")

			evt, err := sse.WaitForEvent(event.PermissionAsked, 10*time.Second)
			Expect(err).NotTo(HaveOccurred())
			var asked event.PermissionAskedData
			Expect(evt.Decode(&asked)).To(Succeed())
			Expect(asked.Tool).To(Equal("write"))

			Expect(client.RespondPermission(ctx, session.ID, asked.ID, "once")).To(Succeed())

			var msg *types.MessageWithParts
			Eventually(done, 10*time.Second).Should(Receive(&msg))
			results := toolResults(msg)
			Expect(results).To(HaveLen(1))
			Expect(results[0].Status).To(Equal(types.ToolCompleted))
			Expect(testutil.MessageText(msg)).To(HavePrefix("done: "))

			content, err := tempDir.ReadFile("notes.txt")
			Expect(err).NotTo(HaveOccurred())
			Expect(content).To(Equal("approved"))
		})

		It("should deny the tool when rejected", func() {
			done := sendAsync(session.ID, "write secret.txt nope")

			evt, err := sse.WaitForEvent(event.PermissionAsked, 10*time.Second)
			Expect(err).NotTo(HaveOccurred())
			var asked event.PermissionAskedData
			Expect(evt.Decode(&asked)).To(Succeed())

			Expect(client.RespondPermission(ctx, session.ID, asked.ID, "reject")).To(Succeed())

			var msg *types.MessageWithParts
			Eventually(done, 10*time.Second).Should(Receive(&msg))
			results := toolResults(msg)
			Expect(results).To(HaveLen(1))
			Expect(results[0].Status).To(Equal(types.ToolDenied))
			Expect(msg.Info.Status).To(Equal(types.StatusComplete))

			_, err = tempDir.ReadFile("secret.txt")
			Expect(err).To(HaveOccurred())
		})
	})
})

var _ = Describe("Global Events", func() {
	It("should publish session lifecycle events", func() {
		sse := testServer.SSEClient()
		Expect(sse.Connect(ctx, "/global/event")).To(Succeed())
		defer sse.Close()

		tempDir, err := testutil.NewTempDir()
		Expect(err).NotTo(HaveOccurred())
		defer tempDir.Cleanup()

		session, err := client.CreateSession(ctx, tempDir.Path, "global-"+testutil.RandomString(6))
		Expect(err).NotTo(HaveOccurred())
		Expect(client.DeleteSession(ctx, session.ID)).To(Succeed())

		for _, t := range []event.EventType{event.SessionCreated, event.SessionDeleted} {
			want := t
			_, err := sse.WaitFor(func(evt testutil.SSEEvent) bool {
				return evt.Type == string(want) && evt.SessionID() == session.ID
			}, 5*time.Second)
			Expect(err).NotTo(HaveOccurred(), string(want))
		}
	})
})
