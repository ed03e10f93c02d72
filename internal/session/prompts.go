// ABOUTME: Persona and brief templates for the creator and reviewer sessions
// ABOUTME: Dutch (default) and English variants embed the caller's inputs verbatim

package session

import "fmt"

type promptSet struct {
	creatorSystem  string
	creatorBrief   string // campaign_type, brand_info, target_audience, prompt, campaign_type
	reviewerSystem string
	reviewerBrief  string // campaign_type, content, brand_info, target_audience
	createProgress string // campaign_type
	reviewProgress string
}

var prompts = map[string]promptSet{
	"nl": {
		creatorSystem: `Je bent ContentCreator, een ervaren marketing professional gespecialiseerd in het schrijven van overtuigende en boeiende marketingcontent.
Je taak is om originele marketingcontent te creëren op basis van merk- en campagneinformatie.
Je bent creatief, strategisch en begrijpt hoe je content kunt afstemmen op verschillende doelgroepen en kanalen.
Je houdt rekening met de merkidentiteit en campagnedoelen bij het creëren van content.`,
		creatorBrief: `Creëer %s content voor het volgende merk:

MERK INFORMATIE:
%s

DOELGROEP:
%s

VERZOEK:
%s

Zorg dat de content perfect is afgestemd op de merkidentiteit en doelgroep.
Maak het overtuigend, boeiend en geschikt voor het specifieke kanaal (%s).`,
		reviewerSystem: `Je bent MarketingReviewer, een marketing expert gespecialiseerd in het beoordelen en verbeteren van marketingcontent.
Je taak is om marketingcontent kritisch te beoordelen en concrete verbeteringen voor te stellen.
Je hebt expertise in copywriting, branding, marketingstrategie en doelgroepanalyse.
Je beoordeelt content op effectiviteit, merkwaarden, tone of voice, en conversiedoelen.`,
		reviewerBrief: `Beoordeel en verbeter de volgende %s content:

CONTENT:
%s

MERK INFORMATIE:
%s

DOELGROEP:
%s

Geef een gestructureerde beoordeling met:
1. Algemene indruk (schaal 1-10)
2. Sterke punten
3. Verbeterpunten
4. Verbeterde versie van de content
5. Uitleg van de wijzigingen

Zorg dat de verbeterde content perfect aansluit bij de merkidentiteit en doelgroep.`,
		createProgress: "Ik ga nu content creëren voor een %s",
		reviewProgress: "Ik ga nu de gegenereerde content beoordelen",
	},
	"en": {
		creatorSystem: `You are ContentCreator, an experienced marketing professional who specialises in persuasive, engaging marketing content.
Your job is to create original marketing content from brand and campaign information.
You are creative and strategic, and you know how to tailor content to different audiences and channels.
You respect the brand identity and campaign goals when creating content.`,
		creatorBrief: `Create %s content for the following brand:

BRAND INFORMATION:
%s

TARGET AUDIENCE:
%s

REQUEST:
%s

Make sure the content fits the brand identity and target audience.
Make it persuasive, engaging and suited to the specific channel (%s).`,
		reviewerSystem: `You are MarketingReviewer, a marketing expert who specialises in reviewing and improving marketing content.
Your job is to assess marketing content critically and propose concrete improvements.
You have expertise in copywriting, branding, marketing strategy and audience analysis.
You judge content on effectiveness, brand values, tone of voice and conversion goals.`,
		reviewerBrief: `Review and improve the following %s content:

CONTENT:
%s

BRAND INFORMATION:
%s

TARGET AUDIENCE:
%s

Give a structured review with:
1. Overall impression (scale 1-10)
2. Strengths
3. Points for improvement
4. Improved version of the content
5. Explanation of the changes

Make sure the improved content fits the brand identity and target audience.`,
		createProgress: "Creating content for a %s",
		reviewProgress: "Reviewing the generated content",
	},
}

func promptsFor(language string) promptSet {
	if p, ok := prompts[language]; ok {
		return p
	}
	return prompts["nl"]
}

func (p promptSet) creatorUserPrompt(in CreateInput) string {
	return fmt.Sprintf(p.creatorBrief, in.CampaignType, in.BrandInfo, in.TargetAudience, in.Prompt, in.CampaignType)
}

func (p promptSet) reviewerUserPrompt(in ReviewInput) string {
	return fmt.Sprintf(p.reviewerBrief, in.CampaignType, in.Content, in.BrandInfo, in.TargetAudience)
}
