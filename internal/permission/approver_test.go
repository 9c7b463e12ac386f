package permission_test

import (
	"context"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/opencode-ai/agentcore/internal/event"
	"github.com/opencode-ai/agentcore/internal/permission"
	"github.com/opencode-ai/agentcore/pkg/types"
)

type recorder struct {
	mu     sync.Mutex
	events []event.Event
}

func (r *recorder) record(e event.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) ofType(t event.EventType) []event.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []event.Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

var _ = Describe("BusApprover", func() {
	var (
		bus      *event.Bus
		approver *permission.BusApprover
		engine   *permission.Engine
		rec      *recorder
	)

	BeforeEach(func() {
		bus = event.NewBus()
		DeferCleanup(bus.Close)
		rec = &recorder{}
		bus.SubscribeAll(rec.record)
		approver = permission.NewBusApprover(bus)
		engine = permission.NewEngine(nil,
			permission.WithApprover(approver),
			permission.WithApprovalTimeout(2*time.Second),
		)
	})

	authorize := func(req permission.Request) <-chan error {
		done := make(chan error, 1)
		go func() { done <- engine.Authorize(context.Background(), req) }()
		return done
	}

	waitPending := func() permission.Request {
		Eventually(approver.Pending).Should(HaveLen(1))
		return approver.Pending()[0]
	}

	It("publishes the request and resumes on approval", func() {
		done := authorize(permission.Request{
			SessionID: "ses_1",
			CallID:    "call_1",
			Tool:      "bash",
			Action:    permission.Action{Command: "make test"},
		})

		pending := waitPending()
		Expect(pending.ID).To(HavePrefix("per_"))
		Expect(pending.Title).To(ContainSubstring("make test"))
		Expect(pending.Patterns).To(Equal([]string{"make test *"}))

		Eventually(func() []event.Event { return rec.ofType(event.PermissionAsked) }).Should(HaveLen(1))
		asked := rec.ofType(event.PermissionAsked)[0].Data.(event.PermissionAskedData)
		Expect(asked.CallID).To(Equal("call_1"))

		Expect(approver.Respond("ses_1", pending.ID, permission.ResponseOnce)).To(Succeed())
		Eventually(done).Should(Receive(BeNil()))
		Expect(approver.Pending()).To(BeEmpty())

		Eventually(func() []event.Event { return rec.ofType(event.PermissionResolved) }).Should(HaveLen(1))
		resolved := rec.ofType(event.PermissionResolved)[0].Data.(event.PermissionResolvedData)
		Expect(resolved.Response).To(Equal("once"))
	})

	It("remembers an always answer for the session", func() {
		done := authorize(permission.Request{SessionID: "ses_1", Tool: "bash", Action: permission.Action{Command: "go build ./..."}})
		pending := waitPending()
		Expect(approver.Respond("", pending.ID, permission.ResponseAlways)).To(Succeed())
		Eventually(done).Should(Receive(BeNil()))

		Expect(engine.Check("ses_1", "bash", permission.Action{Command: "go build ./cmd/..."})).To(Equal(permission.Allow))
		Expect(engine.Check("ses_2", "bash", permission.Action{Command: "go build ./cmd/..."})).To(Equal(permission.Ask))
	})

	It("denies on reject", func() {
		done := authorize(permission.Request{SessionID: "ses_1", Tool: "write", Action: permission.Action{Paths: []string{"/tmp/a"}}})
		pending := waitPending()
		Expect(approver.Respond("ses_1", pending.ID, permission.ResponseReject)).To(Succeed())

		var err error
		Eventually(done).Should(Receive(&err))
		Expect(permission.IsDenied(err)).To(BeTrue())
		Expect(types.NewMessageError(err).Name).To(Equal(types.ErrNamePermission))
	})

	It("rejects unknown requests, foreign sessions and bad responses", func() {
		Expect(approver.Respond("ses_1", "per_missing", permission.ResponseOnce)).To(MatchError(permission.ErrRequestNotFound))

		done := authorize(permission.Request{SessionID: "ses_1", Tool: "write"})
		pending := waitPending()

		Expect(approver.Respond("ses_other", pending.ID, permission.ResponseOnce)).To(MatchError(permission.ErrRequestNotFound))
		Expect(approver.Respond("ses_1", pending.ID, "sometimes")).To(HaveOccurred())

		Expect(approver.Respond("ses_1", pending.ID, permission.ResponseOnce)).To(Succeed())
		Eventually(done).Should(Receive(BeNil()))
	})

	It("denies with a timeout when nobody answers", func() {
		engine = permission.NewEngine(nil,
			permission.WithApprover(approver),
			permission.WithApprovalTimeout(50*time.Millisecond),
		)
		var err error
		Eventually(authorize(permission.Request{SessionID: "ses_1", Tool: "write"})).Should(Receive(&err))

		var denied *permission.DeniedError
		Expect(err).To(BeAssignableToTypeOf(denied))
		Expect(err.(*permission.DeniedError).Timeout).To(BeTrue())
		Expect(approver.Pending()).To(BeEmpty())

		Eventually(func() []event.Event { return rec.ofType(event.PermissionResolved) }).Should(HaveLen(1))
		resolved := rec.ofType(event.PermissionResolved)[0].Data.(event.PermissionResolvedData)
		Expect(resolved.Response).To(Equal("timeout"))
	})

	It("asks one question at a time per session", func() {
		first := authorize(permission.Request{SessionID: "ses_1", Tool: "write", Action: permission.Action{Paths: []string{"/a"}}})
		firstReq := waitPending()

		second := authorize(permission.Request{SessionID: "ses_1", Tool: "write", Action: permission.Action{Paths: []string{"/b"}}})
		Consistently(approver.Pending, 50*time.Millisecond).Should(HaveLen(1))

		Expect(approver.Respond("ses_1", firstReq.ID, permission.ResponseOnce)).To(Succeed())
		Eventually(first).Should(Receive(BeNil()))

		secondReq := waitPending()
		Expect(secondReq.ID).NotTo(Equal(firstReq.ID))
		Expect(approver.Respond("ses_1", secondReq.ID, permission.ResponseOnce)).To(Succeed())
		Eventually(second).Should(Receive(BeNil()))
	})
})

var _ = Describe("PolicyApprover", func() {
	It("answers per tool with a default", func() {
		p := permission.PolicyApprover{
			Default: permission.ResponseOnce,
			Tools:   map[string]permission.Response{"bash": permission.ResponseReject},
		}
		resp, err := p.RequestApproval(context.Background(), permission.Request{Tool: "bash"})
		Expect(err).NotTo(HaveOccurred())
		Expect(resp).To(Equal(permission.ResponseReject))

		resp, _ = p.RequestApproval(context.Background(), permission.Request{Tool: "write"})
		Expect(resp).To(Equal(permission.ResponseOnce))

		resp, _ = permission.PolicyApprover{}.RequestApproval(context.Background(), permission.Request{Tool: "write"})
		Expect(resp).To(Equal(permission.ResponseReject))
	})
})
