package sites

// Field vocabulary shared by the worker scripts. Not every site extracts
// every field; the per-site tables below list what each worker supports.
var (
	fieldURL       = Field{ID: "url", Label: "Product URL", Type: "string"}
	fieldTitle     = Field{ID: "title", Label: "Title", Type: "string"}
	fieldCurrency  = Field{ID: "currency", Label: "Currency", Type: "string"}
	fieldPrice     = Field{ID: "exact_price", Label: "Price", Type: "string"}
	fieldDesc      = Field{ID: "description", Label: "Description", Type: "string"}
	fieldMinOrder  = Field{ID: "min_order", Label: "Minimum Order", Type: "string"}
	fieldSupplier  = Field{ID: "supplier", Label: "Supplier", Type: "string"}
	fieldFeedback  = Field{ID: "feedback", Label: "Rating / Feedback", Type: "string"}
	fieldImageURL  = Field{ID: "image_url", Label: "Image URL", Type: "string"}
	fieldImages    = Field{ID: "images", Label: "Images", Type: "list"}
	fieldVideos    = Field{ID: "videos", Label: "Videos", Type: "list"}
	fieldSpecs     = Field{ID: "specifications", Label: "Specifications", Type: "object"}
	fieldSiteName  = Field{ID: "website_name", Label: "Website", Type: "string"}
	fieldDiscount  = Field{ID: "discount_information", Label: "Discount", Type: "string"}
	fieldBrandName = Field{ID: "brand_name", Label: "Brand", Type: "string"}
)

var retailFields = []Field{
	fieldURL, fieldTitle, fieldCurrency, fieldPrice, fieldDesc,
	fieldFeedback, fieldImageURL, fieldImages, fieldVideos, fieldSpecs,
	fieldSiteName, fieldDiscount, fieldBrandName,
}

var wholesaleFields = []Field{
	fieldURL, fieldTitle, fieldCurrency, fieldPrice, fieldDesc,
	fieldMinOrder, fieldSupplier, fieldFeedback, fieldImageURL, fieldImages,
	fieldVideos, fieldSpecs, fieldSiteName,
}

var defaultRetail = []string{"title", "exact_price", "currency", "feedback", "image_url"}
var defaultWholesale = []string{"title", "exact_price", "currency", "min_order", "supplier"}

// builtin is the full site table. One entry per worker script shipped with
// the deployment.
var builtin = []Site{
	{
		ID:            "amazon",
		Name:          "Amazon",
		Fields:        retailFields,
		DefaultFields: defaultRetail,
		WorkerScript:  "amazon_scraper.py",
		CaptchaScript: "amazon_captcha.py",
	},
	{
		ID:            "flipkart",
		Name:          "Flipkart",
		Fields:        retailFields,
		DefaultFields: defaultRetail,
		WorkerScript:  "flipkart_scraper.py",
		CaptchaScript: "flipkart_captcha.py",
	},
	{
		ID:            "ebay",
		Name:          "eBay",
		Fields:        retailFields,
		DefaultFields: defaultRetail,
		WorkerScript:  "ebay_scraper.py",
	},
	{
		ID:            "alibaba",
		Name:          "Alibaba",
		Fields:        wholesaleFields,
		DefaultFields: defaultWholesale,
		WorkerScript:  "alibaba_scraper.py",
		CaptchaScript: "alibaba_captcha.py",
	},
	{
		ID:            "dhgate",
		Name:          "DHgate",
		Fields:        wholesaleFields,
		DefaultFields: defaultWholesale,
		WorkerScript:  "dhgate_scraper.py",
	},
	{
		ID:            "indiamart",
		Name:          "IndiaMART",
		Fields:        wholesaleFields,
		DefaultFields: defaultWholesale,
		WorkerScript:  "indiamart_scraper.py",
	},
	{
		ID:            "madeinchina",
		Name:          "Made-in-China",
		Fields:        wholesaleFields,
		DefaultFields: defaultWholesale,
		WorkerScript:  "madeinchina_scraper.py",
	},
}
