package database

import (
	"fmt"
	"log"
	"time"

	"github.com/lib/pq"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/BeatsChainApp/moments-sub000/internal/models"
)

// SeedDevData populates the database with development test data.
// Idempotent: skips if data already exists.
func SeedDevData(db *gorm.DB) error {
	// Check if seed data already exists
	var existing models.Subscriber
	result := db.Where("phone_number = ?", "+15550100001").First(&existing)
	if result.Error == nil {
		log.Println("Seed data already exists, skipping")
		return nil
	}

	// Subscribers spread across regions; a handful opted out to exercise
	// the resolver filter.
	regions := []string{"Nairobi", "Mombasa", "Kisumu"}
	for i := 1; i <= 120; i++ {
		region := regions[i%len(regions)]
		sub := models.Subscriber{
			PhoneNumber: fmt.Sprintf("+1555010%04d", i),
			OptedIn:     i%10 != 0,
			Regions:     pq.StringArray{region},
			Categories:  pq.StringArray{"general", "safety"},
		}
		if err := db.Create(&sub).Error; err != nil {
			return err
		}
	}

	// A verified local authority with a modest blast radius
	from := time.Now().AddDate(0, -1, 0)
	until := time.Now().AddDate(1, 0, 0)
	authority := models.AuthorityProfile{
		CreatorID:    "+15550200001",
		Level:        70,
		Role:         "government-official",
		ScopeID:      "nairobi-county",
		BlastRadius:  500,
		ApprovalMode: models.ApprovalModeAuto,
		ValidFrom:    &from,
		ValidUntil:   &until,
	}
	if err := db.Create(&authority).Error; err != nil {
		return err
	}

	// A community leader with a tighter radius
	leader := models.AuthorityProfile{
		CreatorID:   "+15550200002",
		Level:       30,
		Role:        "community-leader",
		ScopeID:     "mombasa-old-town",
		BlastRadius: 50,
	}
	if err := db.Create(&leader).Error; err != nil {
		return err
	}

	sponsor := models.Sponsor{
		Name:    "Green Valley Water Co.",
		Website: "https://greenvalleywater.example",
	}
	if err := db.Create(&sponsor).Error; err != nil {
		return err
	}

	// Sample moments in each attribution shape
	official := models.Moment{
		Title:     "Scheduled water maintenance this weekend",
		Body:      "County water services will be interrupted in Westlands on Saturday between 09:00 and 15:00 while mains are repaired.",
		Region:    "Nairobi",
		Category:  "utilities",
		Status:    models.MomentStatusScheduled,
		CreatorID: authority.CreatorID,
		Media:     datatypes.JSON([]byte(`[{"type":"image","url":"https://cdn.moments.local/notices/water-maintenance.jpg"}]`)),
	}
	if err := db.Create(&official).Error; err != nil {
		return err
	}

	sponsored := models.Moment{
		Title:     "Free water quality testing next week",
		Body:      "Bring a sample of your household water to the community center for a free lab test.",
		Region:    "Mombasa",
		Category:  "health",
		Status:    models.MomentStatusScheduled,
		CreatorID: leader.CreatorID,
		SponsorID: &sponsor.ID,
	}
	if err := db.Create(&sponsored).Error; err != nil {
		return err
	}

	community := models.Moment{
		Title:  "Lost dog near the market",
		Body:   "Brown terrier answering to Simba last seen near the central market on Tuesday evening. Call the number on his collar if spotted.",
		Region: "Kisumu",
		Status: models.MomentStatusScheduled,
	}
	if err := db.Create(&community).Error; err != nil {
		return err
	}

	log.Println("Seeded dev data: 120 subscribers, 2 authority profiles, 1 sponsor, 3 moments")
	return nil
}
