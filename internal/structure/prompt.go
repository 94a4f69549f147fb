package structure

// AnalyzerPrompt asks for the document-level extraction plan. The page list and hints are
// appended per call.
const AnalyzerPrompt = `You are given low-resolution images of consecutive pages of an exam paper. Each image is labelled
by its page number in the list below, in the same order as the images.

Return ONE JSON object describing the structure of the whole paper, with these keys:
- "document_type": a short label such as "multiple_choice_exam" or "mixed_exam".
- "expected_question_count": the total number of questions in the paper.
- "page_ranges": an object mapping each page number (as a string) to the array of question numbers that
  start or continue on that page, for example {"1": [1, 2, 3], "2": [3, 4, 5]}.
- "special_content": an object mapping question numbers (as strings) to one of "TABLE", "CODE",
  "DIAGRAM_IMAGE", "CHOICE_IMAGE" or "MIXED". Omit questions that are plain text.
- "boundary_issues": an array of objects {"question_number": n, "kind": k, "pages": [p, p+1]} for every
  question whose content is cut by a page break, where k is one of "incomplete_choices", "split_table",
  "split_code" or "split_passage".

Question numbers are the numbers printed in the paper. Do not invent questions that are not visible.
Return only the JSON object.`
