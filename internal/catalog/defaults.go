package catalog

// Default returns the built-in catalog used when no catalog file is configured.
func Default() *Catalog {
	c := &Catalog{
		Services: []Service{
			{
				Name:     "Bridal Makeup Services",
				Keywords: []string{"bridal", "bride", "wedding", "marriage", "dulhan", "दुल्हन"},
				Packages: []Package{
					{Name: "Chirag's Signature Bridal Makeup", Price: "₹99,999", Keywords: []string{"signature", "chirag"}},
					{Name: "Luxury Bridal Makeup (HD / Brush)", Price: "₹79,999", Keywords: []string{"luxury", "premium", "hd", "brush"}},
					{Name: "Reception / Engagement / Cocktail Makeup", Price: "₹59,999", Keywords: []string{"reception", "engagement", "cocktail"}},
				},
			},
			{
				Name:     "Party Makeup Services",
				Keywords: []string{"party", "function", "celebration"},
				Packages: []Package{
					{Name: "Party Makeup by Chirag Sharma", Price: "₹19,999", Keywords: []string{"chirag"}},
					{Name: "Party Makeup by Senior Artist", Price: "₹6,999", Keywords: []string{"senior"}},
				},
			},
			{
				Name:     "Engagement & Pre-Wedding Makeup",
				Keywords: []string{"engagement", "pre-wedding", "prewedding", "sangeet"},
				Packages: []Package{
					{Name: "Engagement Makeup by Chirag", Price: "₹59,999", Keywords: []string{"chirag", "engagement"}},
					{Name: "Pre-Wedding Makeup by Senior Artist", Price: "₹19,999", Keywords: []string{"senior", "pre-wedding"}},
				},
			},
			{
				Name:     "Henna (Mehendi) Services",
				Keywords: []string{"henna", "mehendi", "mehndi", "mehandi", "मेहंदी"},
				Packages: []Package{
					{Name: "Henna by Chirag Sharma", Price: "₹49,999", Keywords: []string{"chirag"}},
					{Name: "Henna by Senior Artist", Price: "₹19,999", Keywords: []string{"senior"}},
				},
			},
		},
		Countries: []Country{
			{
				Name: "India", DialCode: "91", PhoneMin: 10, PhoneMax: 10, MobilePrefix: "6789",
				Pincode: `^[1-9]\d{5}$`,
				Aliases: []string{"bharat", "भारत"},
				Cities:  []string{"mumbai", "delhi", "new delhi", "bangalore", "bengaluru", "kolkata", "chennai", "hyderabad", "pune", "jaipur", "ahmedabad", "lucknow", "chandigarh"},
			},
			{
				Name: "Nepal", DialCode: "977", PhoneMin: 9, PhoneMax: 10, MobilePrefix: "9",
				Pincode: `^\d{5}$`,
				Aliases: []string{"नेपाल"},
				Cities:  []string{"kathmandu", "pokhara", "lalitpur", "bhaktapur", "biratnagar", "काठमाडौं"},
			},
			{
				Name: "Pakistan", DialCode: "92", PhoneMin: 10, PhoneMax: 10, MobilePrefix: "3",
				Pincode: `^\d{5}$`,
				Cities:  []string{"karachi", "lahore", "islamabad", "rawalpindi"},
			},
			{
				Name: "Bangladesh", DialCode: "880", PhoneMin: 10, PhoneMax: 10, MobilePrefix: "1",
				Pincode: `^\d{4}$`,
				Cities:  []string{"dhaka", "chittagong", "sylhet"},
			},
			{
				Name: "Dubai", DialCode: "971", PhoneMin: 9, PhoneMax: 9, MobilePrefix: "5",
				Pincode: `^\d{5}$`,
				Aliases: []string{"uae", "united arab emirates"},
				Cities:  []string{"abu dhabi", "sharjah"},
			},
		},
	}
	if err := c.compile(); err != nil {
		panic(err)
	}
	return c
}
