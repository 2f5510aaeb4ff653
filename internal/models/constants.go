package models

const (
	ContextSeparator   = "\n---\n"
	NoContextFound     = "No relevant context found."
	ChunkContextFormat = "Chapter: %s\nSection: %s\n\n"
	ContentTypeSection = "section_chunk"

	DefaultChunkSize       = 500 // characters
	DefaultChunkOverlap    = 50  // characters
	DefaultSearchLimit     = 5
	DefaultTopicComplexity = 5 // words
	WordsPerMinute         = 200
)

var (
	ChatPromptTemplate = `You are a helpful assistant for a textbook.
A user has asked the following question: "%s"

Here is some relevant context from the textbook:
---
%s
---

Based on this context, please provide a concise and helpful answer to the user's question.
If the context does not contain the answer, say that you don't have enough information to answer.
`

	ChapterPromptTemplate = `Write a comprehensive chapter on "%s" for a textbook on %s
aimed at %s students. The chapter should include:

1. An engaging introduction that connects to previous knowledge
2. Main content with clear explanations and examples
3. A summary of key points`

	BreakDownPromptTemplate = `Break down the following complex topic into a list of smaller, more manageable subtopics for a textbook chapter.
The textbook is on "%s" for a "%s" audience.
The main topic is: "%s"

Return a JSON object with a "subtopics" key holding an array of strings, where each string is a subtopic.
For example:
{"subtopics": ["Subtopic 1", "Subtopic 2", "Subtopic 3"]}
`

	AccuracyPromptTemplate = `Review the following content from a %s textbook for factual accuracy.
Identify any potential inaccuracies, outdated information, or misleading statements:

%s

Return a list of potential issues, or an empty response if no issues are found.
`

	CoherencePromptTemplate = `Review the following content from a %s level textbook for:
1. Coherence and logical flow
2. Pedagogical appropriateness for %s students
3. Clarity and readability
4. Appropriate complexity level

Content to review:
%s

Return a list of potential issues related to coherence or pedagogical appropriateness,
or an empty response if no issues are found.
`
)
