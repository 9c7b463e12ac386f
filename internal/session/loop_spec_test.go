package session

import (
	"context"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/opencode-ai/agentcore/internal/provider"
	"github.com/opencode-ai/agentcore/internal/tool"
	"github.com/opencode-ai/agentcore/pkg/types"
)

var _ = Describe("Agent loop", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	useRealBash := func(h *harness) {
		bash := &tool.BashTool{}
		Expect(h.tools.Register(bash.Definition(), bash)).To(Succeed())
	}

	Context("with a read-only search", func() {
		It("completes with the matching files", func() {
			h := newHarness(GinkgoT(), withScript(
				provider.ToolCalls(provider.Call("search", map[string]any{"glob": "**/*.go"})),
				provider.Text("found them"),
			))
			Expect(os.MkdirAll(filepath.Join(h.dir, "cmd"), 0o755)).To(Succeed())
			Expect(os.WriteFile(filepath.Join(h.dir, "main.go"), []byte("package main\n"), 0o644)).To(Succeed())
			Expect(os.WriteFile(filepath.Join(h.dir, "cmd", "root.go"), []byte("package cmd\n"), 0o644)).To(Succeed())
			Expect(os.WriteFile(filepath.Join(h.dir, "README.md"), []byte("readme\n"), 0o644)).To(Succeed())
			sess := h.newSession(GinkgoT())

			res, err := h.proc.Run(ctx, RunInput{SessionID: sess.ID, Text: "find the go files"})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Info.Status).To(Equal(types.StatusComplete))

			results := partsOf[*types.ToolResultPart](res.Parts)
			Expect(results).To(HaveLen(1))
			Expect(results[0].Status).To(Equal(types.ToolCompleted))
			Expect(results[0].Output).To(ContainSubstring("main.go"))
			Expect(results[0].Output).To(ContainSubstring(filepath.Join("cmd", "root.go")))
			Expect(results[0].Output).NotTo(ContainSubstring("README.md"))
		})
	})

	Context("with a destructive shell command", func() {
		It("denies it without spawning a process", func() {
			h := newHarness(GinkgoT(),
				withScript(
					provider.ToolCalls(provider.Call("bash", map[string]any{"command": "touch sentinel && rm -rf /"})),
					provider.Text("could not do it"),
				),
				withRules(
					types.PermissionRule{Tool: "bash", Action: types.ActionAllow},
					types.PermissionRule{Tool: "bash", Pattern: "rm *", Action: types.ActionDeny},
				),
			)
			useRealBash(h)
			sess := h.newSession(GinkgoT())

			res, err := h.proc.Run(ctx, RunInput{SessionID: sess.ID, Text: "wipe the disk"})
			Expect(err).NotTo(HaveOccurred())

			results := partsOf[*types.ToolResultPart](res.Parts)
			Expect(results).To(HaveLen(1))
			Expect(results[0].Status).To(Equal(types.ToolDenied))
			Expect(filepath.Join(h.dir, "sentinel")).NotTo(BeAnExistingFile())

			// The denial is reported to the model on the next step.
			Expect(h.llm.Calls()).To(Equal(2))
		})
	})

	Context("when aborted during a shell command", func() {
		It("kills the command and ends the message as aborted", func() {
			h := newHarness(GinkgoT(),
				withScript(
					provider.ToolCalls(provider.Call("bash", map[string]any{"command": "sleep 30"})),
					provider.Text("never reached"),
				),
				withRules(types.PermissionRule{Tool: "bash", Action: types.ActionAllow}),
			)
			useRealBash(h)
			sess := h.newSession(GinkgoT())
			running := h.onRunning("bash")

			type outcome struct {
				res *types.MessageWithParts
				err error
			}
			done := make(chan outcome, 1)
			go func() {
				defer GinkgoRecover()
				res, err := h.proc.Run(ctx, RunInput{SessionID: sess.ID, Text: "wait a while"})
				done <- outcome{res, err}
			}()

			Eventually(running).WithTimeout(5 * time.Second).Should(BeClosed())
			Expect(h.proc.Abort(sess.ID)).To(Succeed())

			var out outcome
			Eventually(done).WithTimeout(10 * time.Second).Should(Receive(&out))
			Expect(out.err).To(MatchError(types.ErrAborted))
			Expect(out.res.Info.Status).To(Equal(types.StatusError))
			Expect(out.res.Info.Error.Name).To(Equal(types.ErrNameAborted))

			results := partsOf[*types.ToolResultPart](out.res.Parts)
			Expect(results).To(HaveLen(1))
			Expect(results[0].Status).To(Equal(types.ToolAborted))
			Expect(h.llm.Calls()).To(Equal(1))
			Expect(h.proc.State(sess.ID)).To(Equal(StateIdle))
		})
	})

	Context("across runs", func() {
		It("keeps the conversation in one ordered history", func() {
			h := newHarness(GinkgoT(), withScript(provider.Text("one"), provider.Text("two")))
			sess := h.newSession(GinkgoT())

			_, err := h.proc.Run(ctx, RunInput{SessionID: sess.ID, Text: "first"})
			Expect(err).NotTo(HaveOccurred())
			_, err = h.proc.Run(ctx, RunInput{SessionID: sess.ID, Text: "second"})
			Expect(err).NotTo(HaveOccurred())

			history, err := h.svc.Messages(ctx, sess.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(history).To(HaveLen(4))
			for i := 1; i < len(history); i++ {
				Expect(history[i].Info.Seq).To(BeNumerically(">", history[i-1].Info.Seq))
			}
			for _, m := range history {
				if m.Info.IsAssistant() {
					Expect(m.Info.Status.Frozen()).To(BeTrue())
				}
			}

			// The second request replays the first exchange.
			Expect(len(h.llm.Requests()[1].Messages)).To(Equal(len(h.llm.Requests()[0].Messages) + 2))
		})
	})
})
