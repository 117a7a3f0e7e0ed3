package receipt

import (
	"context"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"
)

// itBehavesLikeADB runs the same contract against every DB implementation
func itBehavesLikeADB(open func(dir string) DB) {
	var (
		ctx  context.Context
		db   DB
		base time.Time
	)

	BeforeEach(func() {
		ctx = context.Background()
		db = open(GinkgoT().TempDir())
		base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	})

	AfterEach(func() {
		if db != nil {
			db.Close()
		}
	})

	newGroup := func(id string, members ...string) *Group {
		g := &Group{ID: id, Name: "Trip " + id, CreatedBy: "u1", Members: []Member{}, CreatedAt: base, UpdatedAt: base}
		for _, m := range members {
			g.Members = append(g.Members, Member{GroupID: id, UserID: m, JoinedAt: base})
		}
		return g
	}

	newReceipt := func(id, groupID, date string, created time.Time) *Receipt {
		return &Receipt{
			ID:          id,
			GroupID:     groupID,
			Description: "Receipt " + id,
			TotalAmount: decimal.RequireFromString("4.00"),
			Date:        date,
			UploadedBy:  "u1",
			PaidBy:      "u1",
			Items: []Item{
				{ID: id + "-1", ReceiptID: id, Position: 0, Description: "Coffee", Amount: decimal.RequireFromString("3.50")},
				{ID: id + "-2", ReceiptID: id, Position: 1, Description: "Tax", Amount: decimal.RequireFromString("0.50")},
			},
			CreatedAt: created,
			UpdatedAt: created,
		}
	}

	Describe("groups", func() {
		BeforeEach(func() {
			Expect(db.SaveGroup(ctx, newGroup("g1", "u1"))).To(Succeed())
			Expect(db.SaveGroup(ctx, newGroup("g2", "u2"))).To(Succeed())
		})

		It("gets a group with its members", func() {
			g, err := db.GetGroup(ctx, "g1")
			Expect(err).NotTo(HaveOccurred())
			Expect(g.Name).To(Equal("Trip g1"))
			Expect(g.Members).To(HaveLen(1))
			Expect(g.HasMember("u1")).To(BeTrue())
		})

		It("returns ErrNotFound for unknown groups", func() {
			_, err := db.GetGroup(ctx, "missing")
			Expect(err).To(MatchError(ErrNotFound))
		})

		It("lists all groups and a user's groups", func() {
			all, err := db.ListGroups(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(all).To(HaveLen(2))

			mine, err := db.ListGroupsForUser(ctx, "u2")
			Expect(err).NotTo(HaveOccurred())
			Expect(mine).To(HaveLen(1))
			Expect(mine[0].ID).To(Equal("g2"))
		})

		It("adds members idempotently", func() {
			Expect(db.AddMember(ctx, "g1", "u3", base.Add(time.Hour))).To(Succeed())
			Expect(db.AddMember(ctx, "g1", "u3", base.Add(2*time.Hour))).To(Succeed())

			g, err := db.GetGroup(ctx, "g1")
			Expect(err).NotTo(HaveOccurred())
			Expect(g.Members).To(HaveLen(2))
			Expect(g.HasMember("u3")).To(BeTrue())
		})

		It("refuses members for unknown groups", func() {
			Expect(db.AddMember(ctx, "missing", "u3", base)).To(MatchError(ErrNotFound))
		})
	})

	Describe("receipts", func() {
		BeforeEach(func() {
			Expect(db.SaveGroup(ctx, newGroup("g1", "u1"))).To(Succeed())
			Expect(db.SaveGroup(ctx, newGroup("g2", "u1"))).To(Succeed())
		})

		It("round-trips a receipt with its items", func() {
			Expect(db.SaveReceipt(ctx, newReceipt("r1", "g1", "2024-03-14", base))).To(Succeed())

			r, err := db.GetReceipt(ctx, "r1")
			Expect(err).NotTo(HaveOccurred())
			Expect(r.Description).To(Equal("Receipt r1"))
			Expect(r.Date).To(Equal("2024-03-14"))
			Expect(r.TotalAmount.StringFixed(2)).To(Equal("4.00"))
			Expect(r.Items).To(HaveLen(2))
			Expect(r.Items[0].Description).To(Equal("Coffee"))
			Expect(r.Items[0].Amount.StringFixed(2)).To(Equal("3.50"))
			Expect(r.Items[1].Description).To(Equal("Tax"))
		})

		It("replaces items when a receipt is saved again", func() {
			r := newReceipt("r1", "g1", "2024-03-14", base)
			Expect(db.SaveReceipt(ctx, r)).To(Succeed())

			r.Items = r.Items[:1]
			r.Description = "Edited"
			Expect(db.SaveReceipt(ctx, r)).To(Succeed())

			got, err := db.GetReceipt(ctx, "r1")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Description).To(Equal("Edited"))
			Expect(got.Items).To(HaveLen(1))
		})

		It("lists a group's receipts by date then creation time, newest first", func() {
			Expect(db.SaveReceipt(ctx, newReceipt("old", "g1", "2024-01-01", base))).To(Succeed())
			Expect(db.SaveReceipt(ctx, newReceipt("new-a", "g1", "2024-02-01", base))).To(Succeed())
			Expect(db.SaveReceipt(ctx, newReceipt("new-b", "g1", "2024-02-01", base.Add(time.Minute)))).To(Succeed())
			Expect(db.SaveReceipt(ctx, newReceipt("other", "g2", "2024-12-01", base))).To(Succeed())

			receipts, err := db.ListGroupReceipts(ctx, "g1")
			Expect(err).NotTo(HaveOccurred())
			ids := make([]string, 0, len(receipts))
			for _, r := range receipts {
				ids = append(ids, r.ID)
			}
			Expect(ids).To(Equal([]string{"new-b", "new-a", "old"}))
		})

		It("deletes receipts", func() {
			Expect(db.SaveReceipt(ctx, newReceipt("r1", "g1", "2024-03-14", base))).To(Succeed())
			Expect(db.DeleteReceipt(ctx, "r1")).To(Succeed())

			_, err := db.GetReceipt(ctx, "r1")
			Expect(err).To(MatchError(ErrNotFound))
			Expect(db.DeleteReceipt(ctx, "r1")).To(MatchError(ErrNotFound))
		})
	})
}

var _ = Describe("BoltDB", func() {
	itBehavesLikeADB(func(dir string) DB {
		db, err := NewBoltDB(filepath.Join(dir, "test.db"))
		Expect(err).NotTo(HaveOccurred())
		return db
	})

	It("fails to open a path in a missing directory", func() {
		_, err := NewBoltDB(filepath.Join(GinkgoT().TempDir(), "missing", "test.db"))
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("SQLDB", func() {
	itBehavesLikeADB(func(dir string) DB {
		db, err := OpenSQLDB("sqlite", filepath.Join(dir, "test.sqlite"))
		Expect(err).NotTo(HaveOccurred())
		return db
	})

	It("rejects unknown drivers", func() {
		_, err := OpenSQLDB("oracle", "")
		Expect(err).To(MatchError(ContainSubstring("unsupported sql driver")))
	})
})
