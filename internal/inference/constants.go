package inference

const summaryTemperature = 0.3

const summarySystemPrompt = `You summarize transcript paragraphs from a video.
Respond with a single JSON object and nothing else:
{"summary": "<2-4 sentence summary of the paragraph>", "key_points": ["<short key point>", ...]}
Keep key_points to at most 5 entries. Write in the language of the input text.`
