package pipeline

// Stage prompt templates. Each later stage embeds the validated outputs of
// earlier stages as grounding context, which is why the stages cannot be
// reordered or parallelized across stage boundaries.

// entityExtractionPrompt asks for the full entity roster of a document.
// Normalization (one canonical entity per real-world referent) happens here
// and only here: ids minted from this stage's output are final.
const entityExtractionPrompt = `You are an entity extraction engine for narrative documents.
Read the document and identify every distinct entity it mentions.

ENTITY TYPES (use exactly these values):
- PERSON   : a named or clearly identified individual
- ORG      : a company, institution, team, or other organization
- LOCATION : a place, region, building, or geographic feature
- EVENT    : a named or clearly delimited happening (a meeting, a war, a conference)
- CONCEPT  : an abstract idea, discipline, or recurring theme

Return a JSON object with exactly one key:
  "entities" : array of {"name": string, "type": string}

Rules:
- Merge mentions of the same real-world referent into ONE entity with its
  most complete name: "Dr. Smith", "Smith", and an unambiguous "she" are one
  entity. Differences of case or pluralization never justify separate entities.
- If it is genuinely ambiguous whether two mentions share a referent, keep
  them separate. A wrong merge is worse than a missed one.
- Only include entities supported by the document text.
- If there are none, return an empty array.
- Do NOT include any text outside the JSON object.

EXAMPLES:

Input: "Barack Obama spoke in Chicago. Later, Obama thanked the crowd."
Output:
{"entities": [{"name": "Barack Obama", "type": "PERSON"}, {"name": "Chicago", "type": "LOCATION"}]}

Input: "Acme Corp announced the merger at its annual summit, a turning point for the industry."
Output:
{"entities": [{"name": "Acme Corp", "type": "ORG"}, {"name": "the merger", "type": "EVENT"}, {"name": "annual summit", "type": "EVENT"}, {"name": "the industry", "type": "CONCEPT"}]}

DOCUMENT:
---
%s
---`

// personalityPrompt analyzes one PERSON entity against the document. Every
// trait must carry a verbatim supporting quote; a person without textual
// support gets an empty array, not a guessed profile.
const personalityPrompt = `You are a personality analyst.
Describe the disposition of %q using ONLY evidence from the document below.

Return a JSON object with exactly one key:
  "traits" : array of {"trait": string, "evidence": string}

Rules:
- "trait" is a single descriptive word or short phrase (e.g. "optimistic").
- "evidence" is the passage from the document that supports the trait.
- Do NOT infer traits the text does not support. If the document says
  nothing about this person's disposition, return an empty array.
- Do NOT include any text outside the JSON object.

DOCUMENT:
---
%s
---`

// relationshipPrompt asks for edges between the already-confirmed entities.
// The roster is fixed; the model may not introduce new ids. The schema
// validator enforces this independently of the instruction.
const relationshipPrompt = `You are a relationship extraction engine.
Find relationships stated in the document between the following entities, and no others:

KNOWN ENTITY IDS:
%s

Return a JSON object with exactly one key:
  "relationships" : array of {"source": string, "target": string, "label": string, "evidence": string}

Rules:
- "source" and "target" MUST be ids copied exactly from the KNOWN ENTITY IDS list.
- "label" is a short free-text predicate in the document's own terms
  (e.g. "met", "admired", "works for"). Do not force labels into a fixed
  vocabulary.
- "evidence" is the passage supporting the relationship; it may be omitted
  only when the relationship is stated across several sentences.
- Only include relationships the document states or clearly implies.
- If there are none, return an empty array.
- Do NOT include any text outside the JSON object.

DOCUMENT:
---
%s
---`

// scoringPrompt is the fifth gateway invocation: it compares the frozen
// graph against the source text. Comparison is semantic; a paraphrased label
// is not a penalty.
const scoringPrompt = `You are a scoring agent specializing in knowledge-graph evaluation.
Evaluate how well the GENERATED_GRAPH was extracted from the ORIGINAL_DOCUMENT.

Score two axes, each an integer from 1 to 10:

1. Correctness:
   - Is every entity, relationship, and personality trait in the graph
     supported by the document?
   - Penalize heavily for hallucinations, fabrications, or misinterpretations.
   - Judge meaning, not wording: a paraphrase of something the document says
     is NOT a penalty.
   - 10/10 means zero fabricated information.

2. Completeness:
   - Does the graph capture the most important entities, relationships, and
     personalities in the document?
   - Penalize for missing key people, main events, or critical relationships.
   - 10/10 means all key knowledge is present.

Return a JSON object with exactly two keys:
  "correctness"  : {"score": integer, "rationale": string}
  "completeness" : {"score": integer, "rationale": string}

Do NOT include any text outside the JSON object.

---
ORIGINAL_DOCUMENT:
%s
---
GENERATED_GRAPH:
%s
---`

// correctiveSuffix is appended to a stage prompt on the single retry after a
// schema or referential-integrity violation.
const correctiveSuffix = `

YOUR PREVIOUS RESPONSE WAS REJECTED.
Reason: %s
Respond again. Follow the required JSON contract exactly, with no text outside the JSON object.`
