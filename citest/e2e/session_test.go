package e2e_test

import (
	"errors"
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/opencode-ai/agentcore/citest/testutil"
)

var _ = Describe("Session Workflows", func() {
	var (
		tempDir  *testutil.TempDir
		sessions *testutil.SessionManager
	)

	BeforeEach(func() {
		var err error
		tempDir, err = testutil.NewTempDir()
		Expect(err).NotTo(HaveOccurred())
		sessions = testutil.NewSessionManager(client)
	})

	AfterEach(func() {
		sessions.Cleanup(ctx)
		if tempDir != nil {
			tempDir.Cleanup()
		}
	})

	Describe("Basic Session Lifecycle", func() {
		It("should create a new session", func() {
			session, err := client.CreateSession(ctx, tempDir.Path, "Test Session")
			Expect(err).NotTo(HaveOccurred())
			defer client.DeleteSession(ctx, session.ID)

			Expect(session.ID).To(HavePrefix("ses_"))
			Expect(session.Title).To(Equal("Test Session"))
			Expect(session.Directory).To(Equal(tempDir.Path))
		})

		It("should retrieve session by ID", func() {
			session, err := sessions.Create(ctx, tempDir.Path)
			Expect(err).NotTo(HaveOccurred())

			retrieved, err := client.GetSession(ctx, session.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(retrieved.ID).To(Equal(session.ID))
			Expect(retrieved.Title).To(HavePrefix("New session - "))
		})

		It("should list sessions", func() {
			session, err := sessions.Create(ctx, tempDir.Path)
			Expect(err).NotTo(HaveOccurred())

			list, err := client.ListSessions(ctx)
			Expect(err).NotTo(HaveOccurred())

			var ids []string
			for _, s := range list {
				ids = append(ids, s.ID)
			}
			Expect(ids).To(ContainElement(session.ID))
		})

		It("should delete session", func() {
			session, err := client.CreateSession(ctx, tempDir.Path, "")
			Expect(err).NotTo(HaveOccurred())

			Expect(client.DeleteSession(ctx, session.ID)).To(Succeed())

			_, err = client.GetSession(ctx, session.ID)
			var statusErr *testutil.StatusError
			Expect(errors.As(err, &statusErr)).To(BeTrue())
			Expect(statusErr.StatusCode).To(Equal(http.StatusNotFound))
		})
	})

	Describe("Forking", func() {
		It("should copy history into a child session", func() {
			session, err := sessions.Create(ctx, tempDir.Path)
			Expect(err).NotTo(HaveOccurred())

			_, err = client.SendMessage(ctx, session.ID, "first")
			Expect(err).NotTo(HaveOccurred())
			_, err = client.SendMessage(ctx, session.ID, "second")
			Expect(err).NotTo(HaveOccurred())

			history, err := client.GetMessages(ctx, session.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(history).To(HaveLen(4))

			fork, err := client.ForkSession(ctx, session.ID, history[1].Info.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(fork.ParentID).NotTo(BeNil())
			Expect(*fork.ParentID).To(Equal(session.ID))

			forked, err := client.GetMessages(ctx, fork.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(forked).To(HaveLen(2))
			Expect(testutil.MessageText(&forked[1])).To(Equal("echo: first"))

			Expect(client.DeleteSession(ctx, session.ID)).To(Succeed())
			_, err = client.GetSession(ctx, fork.ID)
			Expect(err).To(HaveOccurred())
		})
	})
})
